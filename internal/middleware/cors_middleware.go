package middleware

import (
	"net/http"
	"strings"
)

func CORSMiddleware(allowedOrigins, allowedMethods, allowedHeaders string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origins := strings.Split(allowedOrigins, ",")
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range origins {
				if strings.TrimSpace(o) == "*" || strings.TrimSpace(o) == origin {
					allowed = true
					break
				}
			}

			if allowed {
				if origin != "" {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				} else if allowedOrigins == "*" {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
			}

			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "3600")
			// X-Sync-Next-Cursor lets a browser-based device read the Delta
			// Producer's pagination cursor straight off a pull response
			// without parsing the JSON body first.
			w.Header().Set("Access-Control-Expose-Headers", "X-Sync-Next-Cursor")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
