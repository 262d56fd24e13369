package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature is returned for tampered, malformed or expired signed URLs.
var ErrInvalidSignature = errors.New("invalid or expired artifact signature")

// ArtifactRoutePrefix is the API path under which signed artifact URLs are served.
const ArtifactRoutePrefix = "/v1/artifacts/"

// Signer mints and verifies HMAC-SHA256 signed artifact URLs.
type Signer struct {
	key     []byte
	baseURL string
	now     func() time.Time
}

// NewSigner creates a signer producing URLs rooted at baseURL.
func NewSigner(key, baseURL string) *Signer {
	return &Signer{key: []byte(key), baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Sign returns a URL for key valid for ttl.
func (s *Signer) Sign(key string, ttl time.Duration) string {
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", s.signature(key, expires))
	return s.baseURL + ArtifactRoutePrefix + escapeKey(key) + "?" + q.Encode()
}

// Verify checks the signature and expiry of a request for key.
func (s *Signer) Verify(key, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrInvalidSignature
	}
	expected := s.signature(key, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Signer) signature(key, expires string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
