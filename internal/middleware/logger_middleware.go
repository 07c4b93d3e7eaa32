package middleware

import (
	"bufio"
	"context"
	"log"
	"net"
	"net/http"
	"time"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// syncFields is a mutable, request-scoped holder for the device/wallet pair
// a sync handler resolves partway through a request. LoggerMiddleware seeds
// the pointer into the context before calling downstream handlers, then
// reads whatever the handler filled in once it returns.
type syncFields struct {
	deviceID string
	walletID string
}

type syncFieldsKey contextKey

const syncFieldsCtxKey syncFieldsKey = "syncFields"

// SetSyncFields records the device/wallet a push or pull request resolved
// to, so the access log line below can report which wallet was touched.
// A no-op if the request wasn't routed through LoggerMiddleware.
func SetSyncFields(r *http.Request, deviceID, walletID string) {
	if f, ok := r.Context().Value(syncFieldsCtxKey).(*syncFields); ok {
		f.deviceID = deviceID
		f.walletID = walletID
	}
}

func LoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			fields := &syncFields{}
			ctx := context.WithValue(r.Context(), syncFieldsCtxKey, fields)

			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)

			userID := GetUserID(r)
			if userID == "" {
				userID = "anonymous"
			}

			line := "[%s] %s %s - Status: %d - Duration: %v - User: %s"
			args := []interface{}{r.Method, r.URL.Path, r.RemoteAddr, rw.statusCode, duration, userID}
			if fields.deviceID != "" || fields.walletID != "" {
				line += " - Device: %s - Wallet: %s"
				args = append(args, fields.deviceID, fields.walletID)
			}

			log.Printf(line, args...)
		})
	}
}
