// Package kalshi implements the exchange WebSocket client that feeds live
// market quotes into the pipeline.
package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Credentials identifies an API key pair registered with the exchange.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// SignRequest produces the authentication headers for a request. The exchange
// verifies an RSA-PSS-SHA256 signature over timestamp + method + path, where
// the timestamp is Unix milliseconds.
func (c *Credentials) SignRequest(method, path string) (http.Header, error) {
	if c == nil || c.PrivateKey == nil {
		return nil, fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.PrivateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: RSA sign: %w", err)
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", c.KeyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)

	return h, nil
}
