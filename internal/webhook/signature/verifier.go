// Package signature implements the timestamped HMAC scheme used on inbound
// webhooks: the header carries `t=<unix>,v1=<hex>` where v1 is an
// HMAC-SHA256 over "<t>.<body>" with the shared secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/webhook/domain"
)

type Verifier struct {
	secret  string
	maxSkew time.Duration
	clock   clock.Clock
}

func NewVerifier(secret string, maxSkew time.Duration, c clock.Clock) *Verifier {
	return &Verifier{secret: secret, maxSkew: maxSkew, clock: c}
}

// Enabled reports whether a secret is configured. Without one, verification
// is skipped entirely (local development only).
func (v *Verifier) Enabled() bool { return v.secret != "" }

// Verify checks the signature header against the exact raw body bytes and
// rejects timestamps outside the allowed skew.
func (v *Verifier) Verify(body []byte, header string) error {
	if !v.Enabled() {
		return nil
	}
	timestamp, claimed, err := parseHeader(header)
	if err != nil {
		return err
	}

	skew := v.clock.Now().Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return domain.ErrStaleRequest
	}

	expected := Compute(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(claimed)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Compute returns the hex signature for a timestamp and body. Exposed so the
// test suite and outbound tooling can sign payloads.
func Compute(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header renders the signature header for a timestamp and body.
func Header(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, Compute(secret, timestamp, body))
}

func parseHeader(header string) (int64, string, error) {
	var (
		timestamp int64
		sig       string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", domain.ErrInvalidSignature
			}
			timestamp = n
		case "v1":
			sig = value
		}
	}
	if timestamp == 0 || sig == "" {
		return 0, "", domain.ErrInvalidSignature
	}
	return timestamp, sig, nil
}
