package middleware

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/dto"
)

// DocsAccess restricts the API documentation endpoint
type DocsAccess struct {
	AllowedIPs   []string        // single IPs or CIDRs, empty allows all
	Authenticate gin.HandlerFunc // optional, runs after the IP check
}

// SwaggerProtection returns a middleware guarding the swagger routes. An
// allow list entry that is neither an address nor a prefix is an error.
func SwaggerProtection(access DocsAccess) (gin.HandlerFunc, error) {
	prefixes := make([]netip.Prefix, 0, len(access.AllowedIPs))
	for _, entry := range access.AllowedIPs {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("swagger allowed ip %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("swagger allowed ip %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}

	return func(c *gin.Context) {
		if len(prefixes) > 0 && !ipAllowed(c.ClientIP(), prefixes) {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Access to API documentation is restricted", requestID(c)))
			return
		}
		if access.Authenticate != nil {
			access.Authenticate(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}, nil
}

func ipAllowed(clientIP string, prefixes []netip.Prefix) bool {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
