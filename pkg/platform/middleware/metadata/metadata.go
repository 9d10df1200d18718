// Package metadata records where a request came from. The values end up in
// the Origin of every audit record written for the request.
package metadata

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"carekeeper/pkg/requestcontext"
)

const maxAgentLength = 128

// ClientMetadata extracts the client IP and a summarized User-Agent and adds
// them to the context. Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(),
			ClientIPFromRequest(r),
			SummarizeUserAgent(r.Header.Get("User-Agent")),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SummarizeUserAgent reduces a raw User-Agent to "Browser Version (OS)".
// Raw strings are unbounded and fingerprintable; the audit trail only needs
// enough to tell a mobile app from a browser.
func SummarizeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		name, _ := ua.Browser()
		return truncate("bot: " + name)
	}
	name, version := ua.Browser()
	if name == "" {
		return truncate(raw)
	}
	summary := name
	if version != "" {
		summary += " " + version
	}
	if os := ua.OS(); os != "" {
		summary += " (" + os + ")"
	}
	if ua.Mobile() {
		summary += " mobile"
	}
	return truncate(summary)
}

func truncate(s string) string {
	if len(s) > maxAgentLength {
		return s[:maxAgentLength]
	}
	return s
}

// ClientIPFromRequest extracts the client IP, honoring proxy headers set by
// the gateway.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
