package totp

import (
	"encoding/base32"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := pqtotp.GenerateCodeCustom(secret, at, pqtotp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestGenerateSecretFormat(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if strings.Contains(secret, "=") {
		t.Fatal("expected no padding")
	}
	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	if len(decoded) != 20 {
		t.Fatalf("expected 20 bytes of key material, got %d", len(decoded))
	}
}

func TestGenerateSecretUnique(t *testing.T) {
	first, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	second, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct secrets")
	}
}

func TestValidateAtCurrentPeriod(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 15, 0, time.UTC)

	offset, ok := ValidateAt(secret, codeAt(t, secret, now), now, 1)
	if !ok {
		t.Fatal("expected current-period code to validate")
	}
	if offset != 0 {
		t.Fatalf("offset = %d, want 0", offset)
	}
}

func TestValidateAtAdjacentPeriods(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 15, 0, time.UTC)

	previous := codeAt(t, secret, now.Add(-Period*time.Second))
	offset, ok := ValidateAt(secret, previous, now, 1)
	if !ok {
		t.Fatal("expected previous-period code inside window")
	}
	if offset != -1 {
		t.Fatalf("offset = %d, want -1", offset)
	}

	next := codeAt(t, secret, now.Add(Period*time.Second))
	offset, ok = ValidateAt(secret, next, now, 1)
	if !ok {
		t.Fatal("expected next-period code inside window")
	}
	if offset != 1 {
		t.Fatalf("offset = %d, want 1", offset)
	}
}

func TestValidateAtOutsideWindow(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 15, 0, time.UTC)

	stale := codeAt(t, secret, now.Add(-2*Period*time.Second))
	if _, ok := ValidateAt(secret, stale, now, 1); ok {
		t.Fatal("expected code two periods old to fail with window 1")
	}
	if _, ok := ValidateAt(secret, stale, now, 2); !ok {
		t.Fatal("expected code two periods old to pass with window 2")
	}
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	other, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 15, 0, time.UTC)

	if _, ok := ValidateAt(secret, codeAt(t, other, now), now, 1); ok {
		t.Fatal("code from a different secret must not validate")
	}
}

func TestValidateRejectsMalformedCode(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		if _, ok := ValidateAt(secret, code, now, 1); ok {
			t.Fatalf("expected %q to fail validation", code)
		}
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("JBSWY3DPEHPK3PXP", "user@example.com", "Hallpass")
	parsed, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	if parsed.Scheme != "otpauth" || parsed.Host != "totp" {
		t.Fatalf("unexpected uri %q", uri)
	}
	query := parsed.Query()
	if query.Get("secret") != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("secret param = %q", query.Get("secret"))
	}
	if query.Get("issuer") != "Hallpass" {
		t.Fatalf("issuer param = %q", query.Get("issuer"))
	}
	if query.Get("period") != "30" || query.Get("digits") != "6" {
		t.Fatalf("unexpected params in %q", uri)
	}
	if !strings.Contains(uri, "Hallpass:user@example.com") {
		t.Fatalf("expected account label in %q", uri)
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(8)
	if err != nil {
		t.Fatalf("generate backup codes: %v", err)
	}
	if len(codes) != 8 {
		t.Fatalf("expected 8 codes, got %d", len(codes))
	}
	seen := make(map[string]bool)
	for _, code := range codes {
		if len(code) != 17 || code[8] != '-' {
			t.Fatalf("unexpected code format %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
}
