// Package security screens a Connector's base_url at registration time
// (common/repository.ConnectorRepository.Upsert) against SSRF and
// file-access vectors, adapted from the teacher's http-worker dispatch
// guard into a one-time, write-path check.
package security

import (
	"fmt"
	"net/url"
)

// URLValidator composes the scheme, host/IP, and path checks a Connector's
// base_url must pass before it is persisted.
type URLValidator struct {
	protocol *ProtocolValidator
	host     *HostValidator
	path     *PathValidator
}

func NewURLValidator() *URLValidator {
	return &URLValidator{
		protocol: NewProtocolValidator(),
		host:     NewHostValidator(),
		path:     NewPathValidator(),
	}
}

// Validate parses urlStr and runs the scheme, host, path, and query-value
// checks against it in turn, returning the first failure.
func (v *URLValidator) Validate(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if err := v.protocol.Validate(parsed.Scheme); err != nil {
		return fmt.Errorf("scheme: %w", err)
	}
	if err := v.host.Validate(parsed.Hostname()); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	if err := v.path.Validate(parsed.Path); err != nil {
		return fmt.Errorf("path: %w", err)
	}
	if err := v.validateQuery(parsed.Query()); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

func (v *URLValidator) validateQuery(params url.Values) error {
	for key, values := range params {
		for _, value := range values {
			if err := v.path.Validate(value); err != nil {
				return fmt.Errorf("parameter %q: %w", key, err)
			}
		}
	}
	return nil
}
