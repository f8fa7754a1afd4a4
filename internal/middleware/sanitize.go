package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	pkghttp "github.com/BradenHooton/torneo/pkg/http"
	"github.com/BradenHooton/torneo/pkg/sanitize"
)

// Fields left byte-for-byte intact by SanitizeJSON.
var sanitizeSkip = map[string]bool{
	"password":         true,
	"current_password": true,
	"new_password":     true,
	"token":            true,
	"code":             true,
	"refresh_token":    true,
	"email":            true,
}

// SanitizeJSON caps the request body at maxBytes and strips markup and
// control characters from every string in a JSON body. Bodies that are not
// valid JSON are passed through for the handler to reject.
func SanitizeJSON(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
					return
				}
				pkghttp.WriteBadRequest(w, "Unable to read request body")
				return
			}

			if isJSON(r) && len(body) > 0 {
				var v interface{}
				if err := json.Unmarshal(body, &v); err == nil {
					if cleaned, err := json.Marshal(sanitize.Value(v, sanitizeSkip)); err == nil {
						body = cleaned
					}
				}
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/json"
}
