// Package httpx holds the JSON envelope and request helpers shared by every handler.
package httpx

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"chat-backend/internal/apperr"
)

const MaxJSONBodyBytes = 1 << 20

// Logger is the subset of the observability logger used here.
type Logger interface {
	Error(message string, fields map[string]any)
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes {"status":"success"} merged with fields.
func WriteSuccess(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["status"] = "success"
	WriteJSON(w, status, body)
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]string{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}

// Fail renders err as an error envelope. Server-side failures are logged and
// reported, and never leak their cause to the client.
func Fail(w http.ResponseWriter, r *http.Request, logger Logger, err error) {
	appErr := apperr.From(err)
	status := appErr.Kind.Status()
	if status >= http.StatusInternalServerError {
		sentry.CaptureException(err)
		if logger != nil {
			logger.Error("request_failed", map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"code":   appErr.Code,
				"error":  err.Error(),
			})
		}
	}
	WriteError(w, status, appErr.Code, appErr.Message)
}

// DecodeJSON reads a size-limited JSON body into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("INVALID_INPUT", "Request body too large")
		}
		return apperr.Validation("INVALID_INPUT", "Invalid JSON body")
	}
	return nil
}

// ClientIP resolves the caller address used for session binding: the first
// X-Forwarded-For entry, then X-Real-IP, then "unknown".
func ClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	return "unknown"
}

// PeerIP is the address of the TCP peer, without the port.
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsSecure detects HTTPS from X-Forwarded-Proto, then X-Forwarded-Ssl, then the URL scheme.
func IsSecure(r *http.Request) bool {
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		return strings.EqualFold(proto, "https")
	}
	if ssl := strings.TrimSpace(r.Header.Get("X-Forwarded-Ssl")); ssl != "" {
		return strings.EqualFold(ssl, "on")
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return strings.EqualFold(r.URL.Scheme, "https")
	}
	return r.TLS != nil
}
