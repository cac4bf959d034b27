package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestVerifyIssuedToken(t *testing.T) {
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	token, err := Issue(testSecret, "srv1:alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if id.UserID != "srv1:alice" || id.Tenant != "srv1" {
		t.Errorf("unexpected identity %+v", id)
	}
	if id.RawID() != "alice" {
		t.Errorf("expected raw id alice, got %q", id.RawID())
	}
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret)

	expired, _ := Issue(testSecret, "srv1:alice", -time.Minute)
	wrongSecret, _ := Issue("other", "srv1:alice", time.Hour)
	unqualified, _ := Issue(testSecret, "alice", time.Hour)
	noRaw, _ := Issue(testSecret, "srv1:", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: "srv1:alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong secret": wrongSecret,
		"unqualified":  unqualified,
		"empty raw id": noRaw,
		"alg none":     none,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
	}

	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("BearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
