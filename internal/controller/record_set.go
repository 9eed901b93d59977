package controller

import (
	"fmt"
	"net/netip"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	mdns "github.com/miekg/dns"

	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
)

const (
	labelAlphabet = "0123456789abcdef"
	labelLength   = 7
)

// RandomLabel returns a 7 character lowercase hex label. Uniqueness against
// existing records is not checked.
func RandomLabel() (string, error) {
	return gonanoid.Generate(labelAlphabet, labelLength)
}

// ValidateLabel checks that a caller supplied subdomain is a relative domain
// name with no empty labels. The value is returned unchanged, so underscore
// labels such as "_acme-challenge" and a leading "*" wildcard pass through.
func ValidateLabel(subdomain string) (string, error) {
	if strings.HasPrefix(subdomain, ".") || strings.HasSuffix(subdomain, ".") {
		return "", fmt.Errorf("invalid subdomain %q: empty label", subdomain)
	}
	if _, ok := mdns.IsDomainName(subdomain); !ok {
		return "", fmt.Errorf("invalid subdomain %q", subdomain)
	}
	return subdomain, nil
}

// BuildRecordSet returns the records to reconcile, in order: A, AAAA, TXT,
// then one A or AAAA for the observed address when neither A nor AAAA was given.
func BuildRecordSet(req UpdateRequest) ([]dns.Record, error) {
	var records []dns.Record

	if req.A != nil {
		addr, err := netip.ParseAddr(*req.A)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("a: %q is not an IPv4 address", *req.A)
		}
		records = append(records, dns.Record{Type: dns.TypeA, Content: addr.String()})
	}
	if req.AAAA != nil {
		addr, err := netip.ParseAddr(*req.AAAA)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return nil, fmt.Errorf("aaaa: %q is not an IPv6 address", *req.AAAA)
		}
		records = append(records, dns.Record{Type: dns.TypeAAAA, Content: addr.String()})
	}
	if req.TXT != nil {
		records = append(records, dns.Record{Type: dns.TypeTXT, Content: *req.TXT})
	}

	if req.A == nil && req.AAAA == nil {
		if !req.ObservedAddr.IsValid() {
			return nil, fmt.Errorf("unable to determine client address")
		}
		addr := req.ObservedAddr.Unmap()
		records = append(records, dns.Record{Type: dns.RecordTypeForAddr(addr), Content: addr.String()})
	}

	return records, nil
}
