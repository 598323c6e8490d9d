// Package middleware provides the HTTP middleware chain: SigV4
// authentication, request logging, and metrics collection.
package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/lokerhq/loker/internal/awserr"
	"github.com/lokerhq/loker/internal/sigv4"
)

// Authenticate returns a middleware that verifies the SigV4 signature of
// every request before any state is touched. The body is buffered so the
// payload hash can be checked and then handed to the next handler intact.
func Authenticate(verifier *sigv4.Verifier, logger *logrus.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				awserr.Write(w, awserr.MalformedRequest())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := verifier.Verify(r, body); err != nil {
				logger.WithFields(logrus.Fields{
					"remote_ip": r.RemoteAddr,
					"error":     awserr.From(err).Code,
				}).Warn("Rejected request signature")
				awserr.Write(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
