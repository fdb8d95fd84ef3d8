// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens, and company subjects

package auth

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	if _, err := NewJWTVerifier([]byte("short")); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	token, err := verifier.GenerateForCompany(42, time.Hour)
	if err != nil {
		t.Fatalf("GenerateForCompany() error = %v", err)
	}

	sub, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if sub != "42" {
		t.Errorf("Verify() = %q, want %q", sub, "42")
	}

	companyID, err := verifier.VerifyCompany(token)
	if err != nil {
		t.Fatalf("VerifyCompany() error = %v", err)
	}
	if companyID != 42 {
		t.Errorf("VerifyCompany() = %d, want 42", companyID)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)
	other, _ := NewJWTVerifier([]byte("a-completely-different-secret-32b"))
	foreign, _ := other.GenerateForCompany(42, time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)

	token, err := verifier.GenerateForCompany(1, -time.Hour)
	if err != nil {
		t.Fatalf("GenerateForCompany() error = %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_NonCompanySubject(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)

	token, _ := verifier.Generate("user-123", time.Hour)
	if _, err := verifier.VerifyCompany(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyCompany() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseCompanyID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "7", want: 7},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCompanyID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompanyID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCompanyID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
