package security

import (
	"fmt"
	"strings"
)

// ProtocolValidator restricts a Connector's base_url scheme to http/https:
// every other scheme is either not an HTTP call at all (file://, jdbc://,
// ssh://) or a known SSRF pivot (gopher://, dict://).
type ProtocolValidator struct {
	allowed map[string]bool
}

func NewProtocolValidator() *ProtocolValidator {
	return &ProtocolValidator{allowed: map[string]bool{"http": true, "https": true}}
}

func (v *ProtocolValidator) Validate(scheme string) error {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if !v.allowed[scheme] {
		return fmt.Errorf("scheme %q is not allowed, only http/https", scheme)
	}
	return nil
}
