// Package auth issues the opaque bearer identity the favorites API accepts
// (spec §4.6/§6). Account management and profiles are a non-goal (spec.md
// §1) — there is no users table here, only a UUID minted on request and
// signed into a short-lived JWT so a caller can carry it across requests.
// The token path keeps no server-side state; the one stored credential is
// the optional recovery-passphrase hash from HashSecret, which the API
// keeps in the opaque_credentials table. Kept in the
// teacher's idiom (golang-jwt/jwt/v5, ephemeral-secret fallback) rather
// than dropped, per the ambient-stack rule.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	jwtSecretOnce    sync.Once
	jwtSecretRuntime []byte
	jwtSecretErr     error
)

func jwtSecretFromEnv() ([]byte, error) {
	jwtSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
		if secret != "" {
			jwtSecretRuntime = []byte(secret)
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			jwtSecretErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}

		jwtSecretRuntime = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if jwtSecretErr != nil {
		return nil, jwtSecretErr
	}
	if len(jwtSecretRuntime) == 0 {
		return nil, errors.New("JWT secret unavailable")
	}

	return jwtSecretRuntime, nil
}

// Service mints opaque identity tokens. It holds no state and needs no
// database handle.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// IssuedIdentity pairs a fresh opaque ID with the bearer token carrying it.
type IssuedIdentity struct {
	OpaqueID string `json:"opaque_id"`
	Token    string `json:"token"`
}

// IssueOpaqueID mints a new opaque ID and a signed JWT whose subject is that
// ID, for clients that want a bearer token instead of resending a bare
// X-User-Opaque-Id header on every favorites call.
func (s *Service) IssueOpaqueID() (*IssuedIdentity, error) {
	opaqueID := uuid.New().String()
	token, err := generateToken(opaqueID)
	if err != nil {
		return nil, err
	}
	return &IssuedIdentity{OpaqueID: opaqueID, Token: token}, nil
}

// ReissueToken mints a fresh bearer token for an opaque ID that already
// exists, used by the recovery flow once a passphrase has been verified.
func (s *Service) ReissueToken(opaqueID string) (string, error) {
	return generateToken(opaqueID)
}

// HashSecret bcrypt-hashes a caller-supplied recovery passphrase so a
// favorites list tied to an opaque ID can be recovered on another device
// without the core tracking any real account (spec.md §1 excludes account
// management; this is a credential check, not a user profile).
func (s *Service) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash recovery passphrase: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches the previously stored hash.
func (s *Service) VerifySecret(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

func generateToken(opaqueID string) (string, error) {
	secretKey, err := jwtSecretFromEnv()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"sub": opaqueID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}
