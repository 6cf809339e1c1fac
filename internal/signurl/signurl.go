// Package signurl mints and verifies short-lived signed links to evidence
// objects. The triage report and the vision tool never see raw object-store
// URIs; they get an HTTPS link that the evidence endpoint validates before
// streaming the object.
package signurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrExpired          = errors.New("signurl: link expired")
	ErrInvalidSignature = errors.New("signurl: signature mismatch")
)

// Signer mints signed evidence links under a fixed base URL.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Signer. baseURL is the externally reachable prefix of the
// evidence endpoint, e.g. "https://warden.example.com/evidence".
func New(secret string, baseURL string, ttl time.Duration) *Signer {
	return &Signer{
		secret:  []byte(secret),
		baseURL: baseURL,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Sign returns a fetchable link for the given object URI, valid for the
// signer's TTL.
func (s *Signer) Sign(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("signurl: empty uri")
	}
	exp := s.now().Add(s.ttl).Unix()
	sig := s.signature(uri, exp)

	q := url.Values{}
	q.Set("uri", uri)
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)
	return s.baseURL + "?" + q.Encode(), nil
}

// Verify checks the signature and expiry of incoming query parameters and
// returns the object URI they authorize.
func (s *Signer) Verify(uri, expStr, sig string) (string, error) {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("signurl: bad expiry: %w", err)
	}
	want := s.signature(uri, exp)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return "", ErrExpired
	}
	return uri, nil
}

func (s *Signer) signature(uri string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", uri, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
