package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSignRequestVerifies(t *testing.T) {
	key := testKey(t)
	creds := &Credentials{KeyID: "key-123", PrivateKey: key}

	before := time.Now().UnixMilli()
	header, err := creds.SignRequest(http.MethodGet, "/trade-api/ws/v2")
	if err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}
	after := time.Now().UnixMilli()

	if got := header.Get("KALSHI-ACCESS-KEY"); got != "key-123" {
		t.Errorf("KALSHI-ACCESS-KEY = %q, want %q", got, "key-123")
	}

	tsHeader := header.Get("KALSHI-ACCESS-TIMESTAMP")
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		t.Fatalf("parse timestamp %q: %v", tsHeader, err)
	}
	if ts < before || ts > after {
		t.Errorf("timestamp %d outside [%d, %d]", ts, before, after)
	}

	sig, err := base64.StdEncoding.DecodeString(header.Get("KALSHI-ACCESS-SIGNATURE"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}

	message := tsHeader + http.MethodGet + "/trade-api/ws/v2"
	hash := sha256.Sum256([]byte(message))
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		t.Errorf("VerifyPSS() error = %v", err)
	}
}

func TestSignRequestWithoutKey(t *testing.T) {
	creds := &Credentials{KeyID: "key-123"}
	if _, err := creds.SignRequest(http.MethodGet, "/trade-api/ws/v2"); err == nil {
		t.Error("SignRequest() with no private key, want error")
	}

	var nilCreds *Credentials
	if _, err := nilCreds.SignRequest(http.MethodGet, "/trade-api/ws/v2"); err == nil {
		t.Error("SignRequest() on nil credentials, want error")
	}
}
