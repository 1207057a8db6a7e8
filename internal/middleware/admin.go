package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/services"

	"github.com/rs/zerolog/log"
)

var errIPNotAllowed = apperrors.New(apperrors.KindAuthorization, "Access denied")

// IPAllowlist rejects requests whose remote address is not listed.
// Entries are single addresses or CIDR prefixes.
func IPAllowlist(allowed []string) func(http.Handler) http.Handler {
	prefixes := make([]netip.Prefix, 0, len(allowed))
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		log.Warn().Str("entry", entry).Msg("Ignoring invalid admin allowlist entry")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := remoteAddr(r)
			if ok {
				for _, p := range prefixes {
					if p.Contains(addr) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Admin access denied")
			respondError(w, errIPNotAllowed)
		})
	}
}

// AdminMiddleware authenticates requests carrying a Bearer admin token
func AdminMiddleware(admin *services.AdminService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondError(w, apperrors.ErrAuthRequired)
				return
			}

			adminID, err := admin.ValidateJWT(token)
			if err != nil {
				respondError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), adminIDKey, adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminID extracts the admin ID from context
func GetAdminID(ctx context.Context) string {
	adminID, _ := ctx.Value(adminIDKey).(string)
	return adminID
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
