package dns

import (
	"fmt"
	"strings"

	mdns "github.com/miekg/dns"
)

// SplitDomain splits a configured domain into the part below the zone and the
// zone itself. The zone is always the last two labels.
// e.g. "ddns.example.com" → ("ddns", "example.com")
// e.g. "a.b.co.uk" → ("a.b", "co.uk")
// e.g. "example.com" → ("", "example.com")
func SplitDomain(domain string) (subdomain, zone string, err error) {
	labels := mdns.SplitDomainName(domain)
	if len(labels) < 2 {
		return "", "", fmt.Errorf("domain %q must have at least two labels", domain)
	}
	n := len(labels)
	return strings.Join(labels[:n-2], "."), strings.Join(labels[n-2:], "."), nil
}

// JoinLabels joins non-empty name parts with dots.
func JoinLabels(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}
