// Package totp wraps RFC 6238 time-based one-time password operations for
// two-factor setup and verification. Defaults follow the RFC: SHA1, 30-second
// period, 6 digits.
package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the code rotation interval in seconds.
	Period = 30
	// Digits is the submitted code length.
	Digits = otp.DigitsSix

	secretBytes     = 20
	backupCodeBytes = 5
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh cryptographically random shared secret,
// base32-encoded without padding.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ProvisioningURI formats an otpauth:// URI for QR rendering. Pure formatting,
// no side effects.
func ProvisioningURI(secret, accountLabel, issuer string) string {
	query := url.Values{}
	query.Set("secret", secret)
	query.Set("issuer", issuer)
	query.Set("algorithm", "SHA1")
	query.Set("digits", "6")
	query.Set("period", fmt.Sprintf("%d", Period))

	label := url.PathEscape(issuer + ":" + accountLabel)
	return "otpauth://totp/" + label + "?" + query.Encode()
}

// Validate checks a submitted code against the secret at the current time,
// tolerating the given window of adjacent periods for clock drift.
func Validate(secret, code string, window int) bool {
	_, ok := ValidateAt(secret, code, time.Now(), window)
	return ok
}

// ValidateAt checks a submitted code at an explicit instant. It returns the
// matched period offset and true on the first match within ±window periods.
// The offset is internal diagnostics only; callers must expose no more than
// the boolean to users.
func ValidateAt(secret, code string, at time.Time, window int) (int, bool) {
	secret = strings.TrimSpace(secret)
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != Digits.Length() {
		return 0, false
	}
	if window < 0 {
		window = 0
	}

	opts := totp.ValidateOpts{
		Period:    Period,
		Digits:    Digits,
		Algorithm: otp.AlgorithmSHA1,
	}
	for offset := -window; offset <= window; offset++ {
		shifted := at.Add(time.Duration(offset) * Period * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, shifted, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return offset, true
		}
	}
	return 0, false
}

// GenerateBackupCodes returns n random single-use recovery codes in the form
// xxxxx-xxxxx over the base32 alphabet.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		raw := make([]byte, backupCodeBytes*2)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("read random bytes: %w", err)
		}
		encoded := strings.ToLower(secretEncoding.EncodeToString(raw))
		codes = append(codes, encoded[:8]+"-"+encoded[8:16])
	}
	return codes, nil
}
