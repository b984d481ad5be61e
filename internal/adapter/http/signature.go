package http

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxTimestampSkew = 5 * time.Minute

const maxBodySize = 1 << 20

// verify rejects mutating requests whose signature does not match, when a
// secret is configured. The body is restored for the handler.
func (s *Server) verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if s.secret != "" {
			if err := verifySignature(r, body, s.secret, time.Now()); err != nil {
				s.logger.WithError(err).WithField("path", r.URL.Path).Warn("http: signature verification failed")
				s.writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Sign returns the X-Signature value for a request body: SHA256("${timestamp}\n${body}\n${secret}").
func Sign(timestamp string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s", timestamp, string(body), secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

var (
	errUnsigned     = errors.New("request is not signed")
	errStale        = errors.New("request timestamp outside the accepted window")
	errBadSignature = errors.New("signature mismatch")
)

func verifySignature(r *http.Request, body []byte, secret string, now time.Time) error {
	stamp, sig := r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature")
	if stamp == "" || sig == "" {
		return errUnsigned
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q is not RFC3339", errStale, stamp)
	}
	if d := now.Sub(at).Abs(); d > maxTimestampSkew {
		return fmt.Errorf("%w: off by %s", errStale, d.Round(time.Second))
	}
	want := Sign(stamp, body, secret)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return errBadSignature
	}
	return nil
}
