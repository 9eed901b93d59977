package dns

import "context"

// Response is the decoded reply of a single provider call. Body keeps the
// raw payload so callers can log or inspect provider-specific fields.
type Response struct {
	StatusCode int
	Status     string
	Message    string
	ID         string
	Records    []RecordEntry
	Body       []byte
}

// RecordEntry is a record as reported back by the provider.
type RecordEntry struct {
	ID      string
	Name    string
	Type    string
	Content string
	TTL     int
}

// Provider performs one record operation per call against a single zone.
// Implementations hold only immutable credentials and are safe for concurrent use.
//
// DeleteRecord must treat a missing record as a successful no-op.
type Provider interface {
	CreateRecord(ctx context.Context, name string, recordType RecordType, content string) (*Response, error)
	GetRecord(ctx context.Context, name string, recordType RecordType) (*Response, error)
	UpdateRecord(ctx context.Context, name string, recordType RecordType, content string) (*Response, error)
	DeleteRecord(ctx context.Context, name string, recordType RecordType, content string) (*Response, error)
}
