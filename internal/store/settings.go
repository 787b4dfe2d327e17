package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeyJWTSecret holds the hex-encoded HMAC key that signs session tokens.
const KeyJWTSecret = "jwt_secret"

// jwtSecretBytes is the size of a freshly generated signing key.
const jwtSecretBytes = 32

// Setting returns the value stored under key, storing candidate first when
// the key is unset. The first writer wins, so every caller sees one value
// even when several processes start at once.
func Setting(ctx context.Context, q DBTX, key, candidate string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = settings.value
		 RETURNING value`,
		key, candidate,
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// GetJWTSecret returns the token signing key, creating a random one the
// first time a database is used.
func GetJWTSecret(ctx context.Context, q DBTX) (string, error) {
	key := make([]byte, jwtSecretBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return Setting(ctx, q, KeyJWTSecret, hex.EncodeToString(key))
}
