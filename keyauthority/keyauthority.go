// Copyright 2026 The Hearth Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keyauthority manages the homeserver's signing identity: the
// verify key derived from the configured seed, and a TTL cache of
// remote servers' verify keys. A missing or invalid seed is a fatal
// configuration error; federation trust silently breaks without it.
package keyauthority

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// DefaultKeyID is used when no key id is configured.
const DefaultKeyID = "ed25519:1"

// DefaultValidity is the advertised validity window for the local
// verify key. It is recomputed on every request so key rotation
// propagates within one window.
const DefaultValidity = time.Hour

var (
	ErrMissingSeed = errors.New("signing key seed not configured")
	ErrInvalidSeed = errors.New("signing key seed is not a valid ed25519 seed")
)

// seedEncodings are the base64 variants accepted for the configured
// seed, in the order tried. Operators paste keys from a variety of
// tools; rejecting a pad/no-pad mismatch would be needless friction.
var seedEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeSeed decodes a base64 seed, accepting any common variant.
func decodeSeed(seed string) ([]byte, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, ErrMissingSeed
	}
	for _, enc := range seedEncodings {
		raw, err := enc.DecodeString(seed)
		if err == nil && len(raw) == ed25519.SeedSize {
			return raw, nil
		}
	}
	return nil, ErrInvalidSeed
}

// VerifyKey is the wire shape of a single verify key.
type VerifyKey struct {
	Key string `json:"key"`
}

// ServerKeys is the wire shape served by the key endpoints.
type ServerKeys struct {
	ServerName    string               `json:"server_name"`
	VerifyKeys    map[string]VerifyKey `json:"verify_keys"`
	OldVerifyKeys map[string]VerifyKey `json:"old_verify_keys"`
	ValidUntilTS  int64                `json:"valid_until_ts"`
}

// Config holds key authority configuration.
type Config struct {
	// ServerName is this homeserver's name.
	ServerName string
	// KeyID identifies the active signing key. Default "ed25519:1".
	KeyID string
	// Seed is the base64-encoded ed25519 seed.
	Seed string
	// Validity is the advertised local key validity window.
	Validity time.Duration
	// Fetcher retrieves remote server keys on cache miss. Nil disables
	// remote queries.
	Fetcher Fetcher
	// Persistence warms the remote key cache across restarts.
	Persistence Persistence
	// Logger for key authority events.
	Logger *slog.Logger
}

// KeyAuthority derives and serves the local verify key and caches
// remote verify keys.
type KeyAuthority struct {
	serverName   string
	keyID        string
	signingKey   ed25519.PrivateKey
	verifyKeyB64 string
	validity     time.Duration
	remote       *RemoteKeyCache
	logger       *slog.Logger
}

// New derives the verify key from the configured seed. The derivation
// happens exactly once; an undecodable seed fails construction.
func New(cfg Config) (*KeyAuthority, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "keyauthority")
	raw, err := decodeSeed(cfg.Seed)
	if err != nil {
		logger.Error(
			"cannot derive federation signing key",
			"error", err,
		)
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}
	keyID := cfg.KeyID
	if keyID == "" {
		keyID = DefaultKeyID
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}
	signingKey := ed25519.NewKeyFromSeed(raw)
	verifyKey := signingKey.Public().(ed25519.PublicKey)
	return &KeyAuthority{
		serverName: cfg.ServerName,
		keyID:      keyID,
		signingKey: signingKey,
		verifyKeyB64: base64.RawStdEncoding.EncodeToString(
			verifyKey,
		),
		validity: validity,
		remote: NewRemoteKeyCache(
			cfg.Fetcher, cfg.Persistence, logger,
		),
		logger: logger,
	}, nil
}

// ServerName returns the configured server name.
func (a *KeyAuthority) ServerName() string {
	return a.serverName
}

// KeyID returns the active signing key id.
func (a *KeyAuthority) KeyID() string {
	return a.keyID
}

// VerifyKeyBase64 returns the unpadded-base64 verify key.
func (a *KeyAuthority) VerifyKeyBase64() string {
	return a.verifyKeyB64
}

// LocalKeys returns the local server key response. The validity window
// is recomputed per call.
func (a *KeyAuthority) LocalKeys() ServerKeys {
	return ServerKeys{
		ServerName: a.serverName,
		VerifyKeys: map[string]VerifyKey{
			a.keyID: {Key: a.verifyKeyB64},
		},
		OldVerifyKeys: map[string]VerifyKey{},
		ValidUntilTS:  time.Now().Add(a.validity).UnixMilli(),
	}
}

// QueryKeys answers a key query for any server. Local queries answer
// from the derived key; remote queries go through the TTL cache.
func (a *KeyAuthority) QueryKeys(
	ctx context.Context,
	serverName string,
	keyID string,
) (ServerKeys, error) {
	if serverName == a.serverName {
		return a.LocalKeys(), nil
	}
	verifyKey, validUntilTS, err := a.remote.Get(ctx, serverName, keyID)
	if err != nil {
		return ServerKeys{}, err
	}
	return ServerKeys{
		ServerName: serverName,
		VerifyKeys: map[string]VerifyKey{
			keyID: {Key: verifyKey},
		},
		OldVerifyKeys: map[string]VerifyKey{},
		ValidUntilTS:  validUntilTS,
	}, nil
}

// Sign signs a message with the local signing key.
func (a *KeyAuthority) Sign(message []byte) []byte {
	return ed25519.Sign(a.signingKey, message)
}

// Verify checks a signature against the local verify key.
func (a *KeyAuthority) Verify(message []byte, sig []byte) bool {
	return ed25519.Verify(
		a.signingKey.Public().(ed25519.PublicKey), message, sig,
	)
}
