package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/nutsub/internal/security"
)

// authenticate reports which configured scheme accepted r, if any, and the
// actor recorded in the audit trail.
func (c AuthConfig) authenticate(r *http.Request) (scheme, actor string, ok bool) {
	header := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(header, "Bearer "); found && c.BearerToken != "" {
		if secretEqual(token, c.BearerToken) {
			return "bearer", "bearer", true
		}
	}
	if c.BasicUser != "" && c.BasicPass != "" {
		user, pass, found := r.BasicAuth()
		// Both comparisons run so timing does not reveal which one failed.
		userOK := secretEqual(user, c.BasicUser)
		passOK := secretEqual(pass, c.BasicPass)
		if found && userOK && passOK {
			return "basic", user, true
		}
	}
	return "", "", false
}

// authMiddleware guards the admin API: it rate-limits per remote host,
// then requires the bearer token or basic credentials. Outcomes go to the
// audit trail; audit and limiter may be nil.
func authMiddleware(cfg AuthConfig, audit *security.AuditLogger, limiter *security.RateLimiter) func(http.Handler) http.Handler {
	record := func(r *http.Request, typ security.EventType, actor, detail string) {
		audit.Log(security.AuditEvent{
			Type:       typ,
			Actor:      actor,
			RemoteAddr: r.RemoteAddr,
			Detail:     detail,
			Metadata:   map[string]string{"method": r.Method, "path": r.URL.Path},
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil {
				if err := limiter.Allow(security.KindRequest, remoteHost(r)); err != nil {
					record(r, security.EventRateLimit, "", err.Error())
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
			}

			scheme, actor, ok := cfg.authenticate(r)
			if !ok {
				detail := "invalid credentials"
				if r.Header.Get("Authorization") == "" {
					detail = "missing authorization header"
				}
				record(r, security.EventAuthFailure, "", detail)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			record(r, security.EventAuthSuccess, actor, scheme)
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
