// bridge runs the AP↔VP federation bridge as a single binary. It serves
// ActivityPub actor/object/inbox endpoints and Versia/Lysand user/note/inbox
// endpoints, mirroring follows and notes between the two protocols for one
// administratively-configured local identity.
//
// Usage:
//
//	export DATABASE_URL=bridge.db
//	export API_DOMAIN=bridge.example.com
//	export VP_DOMAIN=versia.example.com
//	./bridge
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/config"
	"github.com/versia-pub/activitypub/internal/delivery"
	"github.com/versia-pub/activitypub/internal/dispatch"
	"github.com/versia-pub/activitypub/internal/followsm"
	"github.com/versia-pub/activitypub/internal/httpapi"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/keys"
	"github.com/versia-pub/activitypub/internal/mapper"
	"github.com/versia-pub/activitypub/internal/resolver"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

func main() {
	// Structured JSON logging by default — easy to parse with any log
	// aggregator, matching the teacher's startup pattern.
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting activitypub-versia bridge")

	// ─── Configuration ───────────────────────────────────────────────────
	cfg := config.Load()
	slog.Info("config loaded",
		"api_domain", cfg.APIDomain,
		"vp_domain", cfg.VPDomain,
		"federated_domain", cfg.FederatedDomain,
		"local_user", cfg.LocalUsername,
	)

	// ─── Database ────────────────────────────────────────────────────────
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err, "url", cfg.DatabaseURL)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	// ─── Local administrative identity (auto-created if missing) ─────────
	if _, err := ensureLocalUser(db, cfg); err != nil {
		slog.Error("failed to ensure local user", "error", err)
		os.Exit(1)
	}
	slog.Info("local identity ready", "username", cfg.LocalUsername)

	// ─── Wiring: resolver → follow state machine → delivery → dispatcher ──
	res := resolver.New(db, cfg.APIDomain, cfg.VPDomain, cfg.FetchTimeout, cfg.ResolveCacheTTL)
	defer res.Close()

	fm := followsm.New(db, cfg.APIDomain)
	de := delivery.New(cfg.APIDomain, cfg.FederationConcurrency, cfg.FetchTimeout)
	d := dispatch.New(db, res, fm, de, cfg.APIDomain, cfg.VPDomain)

	srv := httpapi.New(cfg, db, res, d)

	// ─── Graceful shutdown ─────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("bridge stopped")
}

// ensureLocalUser creates the bridge's single administratively-configured
// local identity on first run, minting a fresh RSA keypair, matching the
// teacher's LoadOrGenerateKeyPair fail-fast pattern but scoped to a user row
// rather than a process-wide key file.
func ensureLocalUser(db *store.Store, cfg *config.Config) (*store.User, error) {
	existing, err := db.FindLocalUserByUsername(cfg.LocalUsername)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, bridgeerr.ErrNotFound) {
		return nil, err
	}

	pair, err := keys.Generate()
	if err != nil {
		return nil, err
	}

	now := vpmodel.NowISO(time.Now())
	id := ids.NewID()
	u := &store.User{
		ID:              id,
		Username:        cfg.LocalUsername,
		URL:             ids.ActorURL(cfg.APIDomain, id),
		PublicKey:       pair.PublicPEM,
		LastRefreshedAt: now,
		CreatedAt:       now,
		Local:           true,
		Inbox:           ids.InboxURL(cfg.APIDomain, cfg.LocalUsername),
	}
	u.PrivateKey.String, u.PrivateKey.Valid = pair.PrivatePEM, true
	u.Following.String, u.Following.Valid = ids.VPCollectionURL(cfg.APIDomain, "following", u.ID), true
	u.Followers.String, u.Followers.Valid = ids.VPCollectionURL(cfg.APIDomain, "followers", u.ID), true

	actor, err := mapper.ActorToAP(cfg.APIDomain, u)
	if err != nil {
		return nil, err
	}
	apJSON, err := json.Marshal(apmodel.WithContext(actor))
	if err != nil {
		return nil, err
	}
	u.APJSON = string(apJSON)

	if err := db.InsertUser(u); err != nil {
		return nil, err
	}
	return u, nil
}
