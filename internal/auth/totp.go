package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// No TOTP library appears anywhere in the retrieved reference pack, so RFC
// 6238 is implemented directly on crypto/hmac+crypto/sha1+encoding/base32 —
// the second deliberate stdlib exception in this package (see DESIGN.md).
// This replaces the fixed-code mock MFA verifier spec.md's design notes
// flag as a bug.

const (
	totpDigits = 6
	totpStep   = 30 * time.Second
	totpSkew   = 1 // tolerate +/-1 step of clock drift
)

// GenerateTOTPSecret returns a new random base32 secret suitable for an
// authenticator app enrollment, drawing randomness from crypto/rand via
// seal.go's randRead helper (callers should persist only the sealed form).
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, 20) // 160 bits, RFC 4226's recommended HMAC-SHA1 key size
	if _, err := randRead(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ValidateTOTP reports whether code is a valid RFC 6238 TOTP for secret at
// the given time, tolerating +/- totpSkew steps of clock drift.
func ValidateTOTP(secret, code string, now time.Time) (bool, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false, nil
	}

	counter := now.Unix() / int64(totpStep.Seconds())
	for delta := -totpSkew; delta <= totpSkew; delta++ {
		if hotp(key, uint64(counter+int64(delta))) == code {
			return true, nil
		}
	}
	return false, nil
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
}

// hotp computes the RFC 4226 HOTP value for key at counter, truncated to
// totpDigits per RFC 6238's dynamic truncation.
func hotp(key []byte, counter uint64) string {
	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, truncated%mod)
}

// SealTOTPSecret encrypts a raw TOTP secret with AES-GCM under key,
// prepending the random nonce to the ciphertext so it travels as one blob
// at rest — replacing the legacy mock MFA verifier's plaintext secret
// storage.
func SealTOTPSecret(key [32]byte, plaintext string) (string, error) {
	ciphertext, err := sealAESGCM(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(ciphertext), nil
}

// UnsealTOTPSecret reverses SealTOTPSecret.
func UnsealTOTPSecret(key [32]byte, sealed string) (string, error) {
	blob, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(sealed))
	if err != nil {
		return "", err
	}
	plaintext, err := openAESGCM(key, blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
