package httpx

import "net/http"

// UserID returns the caller identity injected by the upstream gateway.
// Authentication itself happens before requests reach this service.
func UserID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}
