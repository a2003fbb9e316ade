package security

import (
	"fmt"
	"net"
	"strings"
)

// HostValidator is the SSRF gate for a Connector's base_url host: a
// literal-hostname blocklist for the common loopback spellings, then a DNS
// resolve-and-check against IPValidator for everything else.
type HostValidator struct {
	blockedHostnames []string
	ips              *IPValidator
}

func NewHostValidator() *HostValidator {
	return &HostValidator{
		blockedHostnames: []string{
			"localhost",
			"127.0.0.1",
			"::1",
			"0.0.0.0",
			"::",
			"::ffff:127.0.0.1",
			"[::1]",
			"[::ffff:127.0.0.1]",
		},
		ips: NewIPValidator(),
	}
}

func (v *HostValidator) Validate(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	for _, blocked := range v.blockedHostnames {
		if normalized == blocked {
			return fmt.Errorf("hostname %q resolves to loopback", hostname)
		}
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// DNS lookup failed; the dispatch itself will fail for the same
		// reason, so there's nothing further to block here.
		return nil
	}
	return v.ips.ValidateAll(ips)
}
