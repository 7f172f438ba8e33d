package webhook

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
)

const (
	HeaderTimestamp = "X-Lark-Request-Timestamp"
	HeaderNonce     = "X-Lark-Request-Nonce"
	HeaderSignature = "X-Lark-Signature"
)

// Sign computes the callback signature: hex(sha256(timestamp + nonce + key + body)).
func Sign(timestamp, nonce, key string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write([]byte(nonce))
	h.Write([]byte(key))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature rejects callbacks whose signature does not match the body.
// An empty key disables the check.
func VerifySignature(key string, maxBodyBytes int64, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] The body is consumed here, so it is restored for the handler.
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				logger.WarnContext(r.Context(), "WEBHOOK_BODY_READ_FAILED", "err", err)
				writeJSON(w, http.StatusOK, ackBody{})
				return
			}

			want := Sign(r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderNonce), key, raw)
			got := r.Header.Get(HeaderSignature)
			if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
				logger.WarnContext(r.Context(), "WEBHOOK_SIGNATURE_MISMATCH", "remote", r.RemoteAddr)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			next.ServeHTTP(w, r)
		})
	}
}
