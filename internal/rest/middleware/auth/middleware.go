// Package auth guards admin routes with an API key or a body signature.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

const (
	// APIKeyHeader carries the admin API key.
	APIKeyHeader = "X-API-Key"
	// SignatureHeader carries the hex HMAC-SHA256 of a database webhook body.
	SignatureHeader = "absolutesolver"

	maxBodySize = 1 << 20
)

var (
	// ErrInvalidAPIKey is returned when the API key header does not match.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrInvalidSignature is returned when a webhook body signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Middleware checks request credentials.
type Middleware struct {
	apiKey       []byte
	signatureKey []byte
	logger       *zap.Logger
}

// New creates the auth middleware. Empty keys reject every request.
func New(apiKey, signatureKey string, logger *zap.Logger) *Middleware {
	return &Middleware{
		apiKey:       []byte(apiKey),
		signatureKey: []byte(signatureKey),
		logger:       logger.Named("auth"),
	}
}

// RequireAPIKey rejects requests without the configured API key.
func (m *Middleware) RequireAPIKey(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		provided := []byte(req.Header.Get(APIKeyHeader))
		if len(m.apiKey) == 0 || subtle.ConstantTimeCompare(provided, m.apiKey) != 1 {
			m.logger.Warn("Rejected request with invalid api key",
				zap.String("path", req.URL.Path),
				zap.String("addr", req.RemoteAddr))

			return ErrInvalidAPIKey
		}

		return next(w, req)
	}
}

// RequireSignature rejects requests whose body does not match the signature
// header. The body is restored for the next handler.
func (m *Middleware) RequireSignature(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}

		if err := Verify(m.signatureKey, body, req.Header.Get(SignatureHeader)); err != nil {
			m.logger.Warn("Rejected webhook with invalid signature",
				zap.String("path", req.URL.Path),
				zap.String("addr", req.RemoteAddr))

			return err
		}

		req.Body = io.NopCloser(bytes.NewReader(body))

		return next(w, req)
	}
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex HMAC-SHA256 signature of body.
func Verify(key, body []byte, signature string) error {
	if len(key) == 0 {
		return ErrInvalidSignature
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(body)

	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrInvalidSignature
	}

	return nil
}
