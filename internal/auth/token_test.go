package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:   "usr_1",
		Email: "avery@arbor.dev",
		Role:  "member",
		JTI:   "jti_1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "usr_1" || claims.Email != "avery@arbor.dev" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:   "usr_1",
		Email: "avery@arbor.dev",
		Role:  "member",
		JTI:   "jti_1",
		Exp:   time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if err == nil {
		t.Fatal("expected ParseToken() to fail for expired token")
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:   "usr_1",
		Email: "avery@arbor.dev",
		Role:  "member",
		JTI:   "jti_1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); err == nil {
		t.Fatal("expected ParseToken() to fail for a wrong secret")
	}
	if _, err := ParseToken(secret, issued+"x"); err == nil {
		t.Fatal("expected ParseToken() to fail for a tampered token")
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	secret := []byte("secret")
	for _, token := range []string{"", "no-dot", ".", "payload.", ".signature"} {
		if _, err := ParseToken(secret, token); err != ErrInvalidToken {
			t.Errorf("ParseToken(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("rft_abc")
	b := HashToken("rft_abc")
	if a != b {
		t.Fatalf("HashToken not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("HashToken length = %d, want 64 hex chars", len(a))
	}
	if a == HashToken("rft_xyz") {
		t.Fatal("different tokens hashed to the same value")
	}
}
