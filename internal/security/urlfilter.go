package security

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMintNotAllowed is returned when a mint URL is rejected by the filter.
var ErrMintNotAllowed = errors.New("security: mint not allowed")

// MintFilterConfig lists the mints the node is willing to talk to.
type MintFilterConfig struct {
	// AllowDomains restricts mints to these domains and their subdomains.
	// Empty allows every domain.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains takes precedence over AllowDomains.
	DenyDomains []string `yaml:"deny_domains"`

	// AllowInsecure accepts plain http mints. Intended for local test mints.
	AllowInsecure bool `yaml:"allow_insecure"`
}

// MintFilter checks mint URLs against allow and deny domain lists.
type MintFilter struct {
	allow    []string
	deny     []string
	insecure bool
}

// NewMintFilter creates a filter from cfg.
func NewMintFilter(cfg MintFilterConfig) *MintFilter {
	return &MintFilter{
		allow:    normalizeDomains(cfg.AllowDomains),
		deny:     normalizeDomains(cfg.DenyDomains),
		insecure: cfg.AllowInsecure,
	}
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Check returns nil when the node may contact the mint at rawURL.
func (f *MintFilter) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrMintNotAllowed, err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !f.insecure {
			return fmt.Errorf("%w: %s uses plain http", ErrMintNotAllowed, rawURL)
		}
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrMintNotAllowed, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrMintNotAllowed)
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrMintNotAllowed, host)
		}
	}
	if len(f.allow) == 0 {
		return nil
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (not in allow list)", ErrMintNotAllowed, host)
}

// matchDomain checks if host matches domain or is a subdomain of it.
// "mint.example.com" matches "example.com"; "notexample.com" does not.
func matchDomain(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
