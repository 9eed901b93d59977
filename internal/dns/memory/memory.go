// Package memory provides an in-process dns.Provider. Records live only for
// the lifetime of the process, which makes it useful for local runs and tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
)

func init() {
	dns.Register("memory", func(log logr.Logger, zone string, _ map[string]string) (dns.Provider, error) {
		return New(log, zone), nil
	})
}

type key struct {
	name       string
	recordType dns.RecordType
}

// Provider implements dns.Provider on top of a map.
type Provider struct {
	zone string
	log  logr.Logger

	mu      sync.Mutex
	nextID  int
	records map[key][]dns.RecordEntry
}

// New creates an empty in-memory zone.
func New(log logr.Logger, zone string) *Provider {
	return &Provider{zone: zone, log: log, records: make(map[key][]dns.RecordEntry)}
}

func (p *Provider) fqdn(name string) string {
	return dns.JoinLabels(name, p.zone)
}

func success() *dns.Response {
	return &dns.Response{StatusCode: 200, Status: "SUCCESS"}
}

func (p *Provider) CreateRecord(_ context.Context, name string, recordType dns.RecordType, content string) (*dns.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := strconv.Itoa(p.nextID)
	k := key{name, recordType}
	p.records[k] = append(p.records[k], dns.RecordEntry{
		ID:      id,
		Name:    p.fqdn(name),
		Type:    string(recordType),
		Content: content,
		TTL:     300,
	})
	p.log.V(1).Info("record created", "name", p.fqdn(name), "type", recordType, "id", id)

	resp := success()
	resp.ID = id
	return resp, nil
}

func (p *Provider) GetRecord(_ context.Context, name string, recordType dns.RecordType) (*dns.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp := success()
	resp.Records = append([]dns.RecordEntry(nil), p.records[key{name, recordType}]...)
	return resp, nil
}

func (p *Provider) UpdateRecord(_ context.Context, name string, recordType dns.RecordType, content string) (*dns.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key{name, recordType}
	entries := p.records[k]
	if len(entries) == 0 {
		return nil, &dns.ProviderError{Op: "edit", StatusCode: 400, Message: "no record found for " + p.fqdn(name)}
	}
	for i := range entries {
		entries[i].Content = content
	}
	return success(), nil
}

func (p *Provider) DeleteRecord(_ context.Context, name string, recordType dns.RecordType, _ string) (*dns.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key{name, recordType}
	if _, ok := p.records[k]; !ok {
		p.log.V(1).Info("nothing to delete", "name", p.fqdn(name), "type", recordType)
	}
	delete(p.records, k)
	return success(), nil
}

// Len returns the total number of stored records.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, entries := range p.records {
		n += len(entries)
	}
	return n
}
