// Package config loads bridge configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the bridge.
type Config struct {
	Listen          string // LISTEN — HTTP listen address (default 0.0.0.0:8080)
	DatabaseURL     string // DATABASE_URL — required
	APIDomain       string // API_DOMAIN — required; the bridge's own hostname
	VPDomain        string // VP_DOMAIN — required; the VP-side origin the bridge mirrors
	FederatedDomain string // FEDERATED_DOMAIN — defaults to API_DOMAIN
	LocalUsername   string // LOCAL_USER_NAME — default apservice

	// Tunable performance constants (sensible defaults, rarely need changing).
	FederationConcurrency int           // AP_FEDERATION_CONCURRENCY — max concurrent outbound AP deliveries per fan-out (default 10)
	MaxConcurrentInbox    int           // MAX_CONCURRENT_INBOX — global inbox-processing concurrency cap (default 50)
	MaxPerOriginInbox     int           // MAX_PER_ORIGIN_INBOX — per-origin inbox-processing concurrency cap (default 5)
	FetchTimeout          time.Duration // FETCH_TIMEOUT — outbound HTTP fetch/delivery timeout (default 30s)
	ResolveCacheTTL       time.Duration // RESOLVE_CACHE_TTL — TTL for the identity resolver's in-memory cache (default 1h)
	ShutdownTimeout       time.Duration // SHUTDOWN_TIMEOUT — graceful shutdown drain period (default 20s)
}

// BaseURL constructs an absolute https URL on the API domain from a path.
func (c *Config) BaseURL(path string) string {
	return "https://" + strings.TrimRight(c.APIDomain, "/") + path
}

// VPBaseURL constructs an absolute https URL on the VP domain from a path.
func (c *Config) VPBaseURL(path string) string {
	return "https://" + strings.TrimRight(c.VPDomain, "/") + path
}

// Load reads configuration from environment variables. Exits the process
// with a diagnostic if a required variable is missing, matching the
// teacher's fail-fast startup pattern.
func Load() *Config {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "ERROR: DATABASE_URL is not set!")
		os.Exit(1)
	}
	apiDomain := os.Getenv("API_DOMAIN")
	if apiDomain == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_DOMAIN is not set!")
		os.Exit(1)
	}
	vpDomain := os.Getenv("VP_DOMAIN")
	if vpDomain == "" {
		fmt.Fprintln(os.Stderr, "ERROR: VP_DOMAIN is not set!")
		os.Exit(1)
	}

	return &Config{
		Listen:          getEnv("LISTEN", "0.0.0.0:8080"),
		DatabaseURL:     databaseURL,
		APIDomain:       apiDomain,
		VPDomain:        vpDomain,
		FederatedDomain: getEnv("FEDERATED_DOMAIN", apiDomain),
		LocalUsername:   getEnv("LOCAL_USER_NAME", "apservice"),

		FederationConcurrency: parseInt(os.Getenv("AP_FEDERATION_CONCURRENCY"), 10),
		MaxConcurrentInbox:    parseInt(os.Getenv("MAX_CONCURRENT_INBOX"), 50),
		MaxPerOriginInbox:     parseInt(os.Getenv("MAX_PER_ORIGIN_INBOX"), 5),
		FetchTimeout:          parseDuration(os.Getenv("FETCH_TIMEOUT"), 30*time.Second),
		ResolveCacheTTL:       parseDuration(os.Getenv("RESOLVE_CACHE_TTL"), time.Hour),
		ShutdownTimeout:       parseDuration(os.Getenv("SHUTDOWN_TIMEOUT"), 20*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}
