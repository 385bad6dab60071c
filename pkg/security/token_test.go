package security_test

import (
	"testing"

	"github.com/atlasops/atlasops-backend/pkg/config"
	"github.com/atlasops/atlasops-backend/pkg/security"
)

func TestHashAndVerifyToken(t *testing.T) {
	cfg := config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}

	hash, err := security.HashToken("ops-machine-token", cfg)
	if err != nil {
		t.Fatalf("HashToken returned error: %v", err)
	}
	if hash == "" {
		t.Fatal("HashToken returned empty string")
	}

	ok, err := security.VerifyToken("ops-machine-token", hash)
	if err != nil {
		t.Fatalf("VerifyToken returned error for valid hash: %v", err)
	}
	if !ok {
		t.Fatal("VerifyToken failed for the correct token")
	}

	ok, err = security.VerifyToken("bogus-token", hash)
	if err != nil {
		t.Fatalf("VerifyToken returned error for invalid token: %v", err)
	}
	if ok {
		t.Fatal("VerifyToken returned true for incorrect token")
	}
}

func TestVerifyTokenBadHash(t *testing.T) {
	if _, err := security.VerifyToken("irrelevant", "not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestGenerateTokenLength(t *testing.T) {
	token, err := security.GenerateToken(40)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if len(token) != 40 {
		t.Fatalf("expected 40 characters, got %d", len(token))
	}

	if _, err := security.GenerateToken(0); err == nil {
		t.Fatal("expected error for non-positive length")
	}
}
