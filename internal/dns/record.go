package dns

import "net/netip"

// RecordType is one of the record types the service manages.
type RecordType string

const (
	TypeA    RecordType = "A"
	TypeAAAA RecordType = "AAAA"
	TypeTXT  RecordType = "TXT"
)

// Record is a desired record value for a single type.
type Record struct {
	Type    RecordType `json:"type"`
	Content string     `json:"content"`
}

// RecordTypeForAddr returns A for IPv4 (including IPv4-mapped IPv6) and AAAA otherwise.
func RecordTypeForAddr(a netip.Addr) RecordType {
	if a.Unmap().Is4() {
		return TypeA
	}
	return TypeAAAA
}
