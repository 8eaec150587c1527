package auth

import (
	"testing"
	"time"
)

func TestTOTP_ValidCodeAtCurrentStep(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now()
	counter := uint64(now.Unix() / int64(totpStep.Seconds()))

	key, err := decodeTOTPSecret(secret)
	if err != nil {
		t.Fatalf("unexpected error decoding secret: %v", err)
	}
	code := hotp(key, counter)

	ok, err := ValidateTOTP(secret, code, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected generated code to validate")
	}
}

func TestTOTP_RejectsWrongCode(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := ValidateTOTP(secret, "000000", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected an arbitrary code to not validate (astronomically unlikely collision)")
	}
}

func TestTOTP_TemporalSkewTolerance(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now()
	key, _ := decodeTOTPSecret(secret)
	prevCounter := uint64(now.Unix()/int64(totpStep.Seconds())) - 1
	code := hotp(key, prevCounter)

	ok, err := ValidateTOTP(secret, code, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected the previous step's code to validate within skew tolerance")
	}
}

func TestSealAndUnsealTOTPSecret_RoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	sealed, err := SealTOTPSecret(key, "JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("unexpected error sealing: %v", err)
	}

	opened, err := UnsealTOTPSecret(key, sealed)
	if err != nil {
		t.Fatalf("unexpected error unsealing: %v", err)
	}
	if opened != "JBSWY3DPEHPK3PXP" {
		t.Errorf("expected round-trip to preserve secret, got %q", opened)
	}
}

func TestUnsealTOTPSecret_RejectsWrongKey(t *testing.T) {
	var key1, key2 [32]byte
	copy(key1[:], []byte("0123456789abcdef0123456789abcdef"))
	copy(key2[:], []byte("ffffffffffffffffffffffffffffffff"))

	sealed, err := SealTOTPSecret(key1, "secret-value")
	if err != nil {
		t.Fatalf("unexpected error sealing: %v", err)
	}
	if _, err := UnsealTOTPSecret(key2, sealed); err == nil {
		t.Fatal("expected unsealing with the wrong key to fail")
	}
}
