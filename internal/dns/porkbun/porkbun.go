package porkbun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/util/flowcontrol"

	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
)

const (
	DefaultBaseURL = "https://porkbun.com/api/json/v3"
	DefaultTTL     = 300

	defaultTimeout = 30 * time.Second
	defaultQPS     = 5
	defaultBurst   = 10

	statusSuccess = "SUCCESS"
)

func init() {
	dns.Register("porkbun", func(log logr.Logger, zone string, settings map[string]string) (dns.Provider, error) {
		return New(log, zone, settings)
	})
}

// Provider implements dns.Provider for the Porkbun JSON API v3.
// Credentials are sent in the body of every call.
type Provider struct {
	baseURL      string
	zone         string
	apiKey       string
	secretAPIKey string
	ttl          int
	client       *http.Client
	limiter      flowcontrol.RateLimiter
	log          logr.Logger
}

// New creates a Porkbun provider for zone from the given settings map.
// Required settings: api_key, secret_api_key.
// Optional settings: base_url, ttl (default 300), timeout (default 30s),
// requests_per_second (default 5, 0 disables limiting), burst (default 10).
func New(log logr.Logger, zone string, settings map[string]string) (*Provider, error) {
	if zone == "" {
		return nil, fmt.Errorf("porkbun: zone cannot be empty")
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("porkbun: missing required setting 'api_key'")
	}
	secretAPIKey := settings["secret_api_key"]
	if secretAPIKey == "" {
		return nil, fmt.Errorf("porkbun: missing required setting 'secret_api_key'")
	}

	baseURL := DefaultBaseURL
	if v := settings["base_url"]; v != "" {
		if _, err := url.Parse(v); err != nil {
			return nil, fmt.Errorf("porkbun: invalid base_url %q: %w", v, err)
		}
		baseURL = v
	}

	ttl := DefaultTTL
	if v := settings["ttl"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("porkbun: invalid ttl %q: %w", v, err)
		}
		ttl = parsed
	}

	timeout := defaultTimeout
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("porkbun: invalid timeout %q: %w", v, err)
		}
		timeout = parsed
	}

	qps := float64(defaultQPS)
	if v := settings["requests_per_second"]; v != "" {
		parsed, err := strconv.ParseFloat(v, 32)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("porkbun: invalid requests_per_second %q", v)
		}
		qps = parsed
	}
	burst := defaultBurst
	if v := settings["burst"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("porkbun: invalid burst %q", v)
		}
		burst = parsed
	}

	limiter := flowcontrol.NewFakeAlwaysRateLimiter()
	if qps > 0 {
		limiter = flowcontrol.NewTokenBucketRateLimiter(float32(qps), burst)
	}

	return &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		zone:         zone,
		apiKey:       apiKey,
		secretAPIKey: secretAPIKey,
		ttl:          ttl,
		client:       &http.Client{Timeout: timeout},
		limiter:      limiter,
		log:          log,
	}, nil
}

type authBody struct {
	APIKey       string `json:"apikey"`
	SecretAPIKey string `json:"secretapikey"`
}

type createBody struct {
	authBody
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

type contentBody struct {
	authBody
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// apiResponse is the envelope every Porkbun endpoint answers with.
type apiResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	ID      json.Number `json:"id"`
	Records []apiRecord `json:"records"`
}

type apiRecord struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Content string      `json:"content"`
	TTL     json.Number `json:"ttl"`
}

func (p *Provider) auth() authBody {
	return authBody{APIKey: p.apiKey, SecretAPIKey: p.secretAPIKey}
}

// byNameTypePath builds "<action>/<zone>/<type>/<name>"; an empty name targets the zone apex.
func (p *Provider) byNameTypePath(action string, name string, recordType dns.RecordType) string {
	path := fmt.Sprintf("dns/%s/%s/%s", action, url.PathEscape(p.zone), recordType)
	if name != "" {
		path += "/" + url.PathEscape(name)
	}
	return path
}

// doRequest POSTs body to path and decodes the Porkbun envelope.
func (p *Provider) doRequest(ctx context.Context, op, path string, body interface{}) (*dns.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("porkbun: marshal request body: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &dns.NetworkError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("porkbun: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	p.log.V(1).Info("calling provider", "op", op, "path", path)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &dns.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &dns.NetworkError{Op: op, Err: err}
	}

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &dns.ProviderError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return nil, &dns.DecodeError{Op: op, Err: err}
	}

	out := &dns.Response{
		StatusCode: resp.StatusCode,
		Status:     ar.Status,
		Message:    ar.Message,
		ID:         ar.ID.String(),
		Body:       raw,
	}
	for _, r := range ar.Records {
		ttl, _ := strconv.Atoi(r.TTL.String())
		out.Records = append(out.Records, dns.RecordEntry{ID: r.ID.String(), Name: r.Name, Type: r.Type, Content: r.Content, TTL: ttl})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !strings.EqualFold(ar.Status, statusSuccess) {
		return out, &dns.ProviderError{Op: op, StatusCode: resp.StatusCode, Message: ar.Message}
	}
	return out, nil
}

// CreateRecord adds a record named name (relative to the zone).
func (p *Provider) CreateRecord(ctx context.Context, name string, recordType dns.RecordType, content string) (*dns.Response, error) {
	body := createBody{
		authBody: p.auth(),
		Name:     name,
		Type:     string(recordType),
		Content:  content,
		TTL:      p.ttl,
	}
	return p.doRequest(ctx, "create", "dns/create/"+url.PathEscape(p.zone), body)
}

// GetRecord retrieves all records matching name and type.
func (p *Provider) GetRecord(ctx context.Context, name string, recordType dns.RecordType) (*dns.Response, error) {
	return p.doRequest(ctx, "retrieve", p.byNameTypePath("retrieveByNameType", name, recordType), p.auth())
}

// UpdateRecord replaces the content of all records matching name and type.
func (p *Provider) UpdateRecord(ctx context.Context, name string, recordType dns.RecordType, content string) (*dns.Response, error) {
	body := contentBody{authBody: p.auth(), Content: content, TTL: p.ttl}
	return p.doRequest(ctx, "edit", p.byNameTypePath("editByNameType", name, recordType), body)
}

// DeleteRecord deletes all records matching name and type. A missing record
// is not an error.
func (p *Provider) DeleteRecord(ctx context.Context, name string, recordType dns.RecordType, content string) (*dns.Response, error) {
	body := contentBody{authBody: p.auth(), Content: content, TTL: p.ttl}
	resp, err := p.doRequest(ctx, "delete", p.byNameTypePath("deleteByNameType", name, recordType), body)
	if err != nil && resp != nil && isRecordAbsent(resp.Message) {
		p.log.V(1).Info("nothing to delete", "name", name, "type", recordType)
		return resp, nil
	}
	return resp, err
}

// isRecordAbsent matches Porkbun's reply to a delete with no matching record.
// Domain or zone failures ("Domain not found", ...) do not match.
func isRecordAbsent(message string) bool {
	return strings.HasPrefix(strings.ToLower(message), "could not find a record")
}
