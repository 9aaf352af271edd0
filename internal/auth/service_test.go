package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueOpaqueID_MintsDistinctIDsAndVerifiableTokens(t *testing.T) {
	svc := NewService()

	a, err := svc.IssueOpaqueID()
	if err != nil {
		t.Fatalf("issue opaque id: %v", err)
	}
	b, err := svc.IssueOpaqueID()
	if err != nil {
		t.Fatalf("issue opaque id: %v", err)
	}

	if a.OpaqueID == b.OpaqueID {
		t.Fatal("two calls to IssueOpaqueID must not mint the same id")
	}
	if a.Token == "" || b.Token == "" {
		t.Fatal("expected a non-empty bearer token")
	}
	for _, id := range []*IssuedIdentity{a, b} {
		parsed, err := jwt.Parse(id.Token, func(*jwt.Token) (interface{}, error) {
			return jwtSecretFromEnv()
		})
		if err != nil || !parsed.Valid {
			t.Fatalf("token for %s does not verify: %v", id.OpaqueID, err)
		}
	}
}

func TestReissueToken_CarriesTheSameSubject(t *testing.T) {
	svc := NewService()
	identity, err := svc.IssueOpaqueID()
	if err != nil {
		t.Fatalf("issue opaque id: %v", err)
	}

	token, err := svc.ReissueToken(identity.OpaqueID)
	if err != nil {
		t.Fatalf("reissue token: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty reissued token")
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return jwtSecretFromEnv()
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("reissued token does not verify: %v", err)
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject != identity.OpaqueID {
		t.Fatalf("expected subject %q, got %q (%v)", identity.OpaqueID, subject, err)
	}
}

func TestHashSecret_VerifySecretRoundTrip(t *testing.T) {
	svc := NewService()

	hash, err := svc.HashSecret("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}

	if err := svc.VerifySecret(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("expected matching passphrase to verify, got: %v", err)
	}
	if err := svc.VerifySecret(hash, "wrong passphrase"); err == nil {
		t.Fatal("expected a mismatched passphrase to fail verification")
	}
}
