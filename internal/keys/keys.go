// Package keys generates and parses the RSA key pairs used for AP HTTP
// Signatures. Unlike the teacher, which loads or generates a single
// process-wide keypair from disk, this package mints a fresh keypair per
// call — the identity resolver calls Generate once per materialized remote
// actor and persists the PEM pair to that actor's store row.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Pair holds a parsed RSA key pair plus its PEM encodings.
type Pair struct {
	Private    *rsa.PrivateKey
	Public     *rsa.PublicKey
	PrivatePEM string
	PublicPEM  string
}

// Generate mints a fresh RSA-2048 key pair.
func Generate() (*Pair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return &Pair{
		Private:    priv,
		Public:     &priv.PublicKey,
		PrivatePEM: string(privPEM),
		PublicPEM:  string(pubPEM),
	}, nil
}

// ParsePrivate decodes a PKCS1 RSA private key PEM block.
func ParsePrivate(privPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privPEM))
	if block == nil {
		return nil, fmt.Errorf("decode private key PEM")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return priv, nil
}

// ParsePublic decodes a PKIX RSA public key PEM block.
func ParsePublic(pubPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil {
		return nil, fmt.Errorf("decode public key PEM")
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}

// Load reconstructs a Pair from a previously persisted PEM pair.
func Load(privPEM, pubPEM string) (*Pair, error) {
	priv, err := ParsePrivate(privPEM)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublic(pubPEM)
	if err != nil {
		return nil, err
	}
	return &Pair{Private: priv, Public: pub, PrivatePEM: privPEM, PublicPEM: pubPEM}, nil
}
