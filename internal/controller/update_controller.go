package controller

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/netip"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
)

// Status is the outcome of one update request.
type Status int

const (
	StatusOK Status = iota
	StatusUnauthorized
	StatusInvalidRequest
	StatusProviderError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusInvalidRequest:
		return "invalid_request"
	case StatusProviderError:
		return "provider_error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// UpdateRequest carries one caller's update. Nil pointers mean the
// parameter was not supplied. ObservedAddr comes from the transport, not the caller.
type UpdateRequest struct {
	Token     *string
	Subdomain *string
	A         *string
	AAAA      *string
	TXT       *string
	Clear     bool

	// ParamErr is a query parameter the transport could not parse. It is
	// reported as StatusInvalidRequest once the token has been accepted.
	ParamErr error

	ObservedAddr netip.Addr
}

// Result is everything the caller gets to see about a reconciliation.
// Err holds the cause for non-OK results and must not be shown to callers
// for StatusProviderError.
type Result struct {
	Status  Status
	Domain  string
	Clear   bool
	Records []dns.Record
	Err     error
}

var ErrUnauthorized = errors.New("invalid token")

// UpdateReconciler drives a provider so that the records named by an
// UpdateRequest end up holding the requested values.
//
// Records are processed strictly one after another in request order: each
// record's delete (and create) completes before the next record starts, and
// the first failure aborts the remaining records. Concurrent requests share
// nothing but the immutable fields below.
type UpdateReconciler struct {
	DNS dns.Provider
	Log logr.Logger
	// Domain is the configured domain; generated labels are placed below it.
	Domain string
	// Token, when non-empty, must match the request token exactly.
	Token string
	// NewLabel generates a subdomain label when the request has none. Defaults to RandomLabel.
	NewLabel func() (string, error)
}

func (r *UpdateReconciler) Reconcile(ctx context.Context, req UpdateRequest) Result {
	res := r.reconcile(ctx, req)
	updateRequests.WithLabelValues(res.Status.String()).Inc()
	return res
}

func (r *UpdateReconciler) reconcile(ctx context.Context, req UpdateRequest) Result {
	if !r.authorized(req.Token) {
		r.Log.V(1).Info("rejected update with invalid token", "observed", req.ObservedAddr)
		return Result{Status: StatusUnauthorized, Clear: req.Clear, Records: []dns.Record{}, Err: ErrUnauthorized}
	}

	if req.ParamErr != nil {
		return Result{Status: StatusInvalidRequest, Clear: req.Clear, Records: []dns.Record{}, Err: req.ParamErr}
	}

	baseSubdomain, zone, err := dns.SplitDomain(r.Domain)
	if err != nil {
		r.Log.Error(err, "configured domain is invalid", "domain", r.Domain)
		return Result{Status: StatusProviderError, Clear: req.Clear, Records: []dns.Record{}, Err: err}
	}

	label, err := r.resolveLabel(req.Subdomain)
	if err != nil {
		return Result{Status: StatusInvalidRequest, Clear: req.Clear, Records: []dns.Record{}, Err: err}
	}

	fullSubdomain := dns.JoinLabels(label, baseSubdomain)
	fullDomain := dns.JoinLabels(fullSubdomain, zone)

	records, err := BuildRecordSet(req)
	if err != nil {
		return Result{Status: StatusInvalidRequest, Domain: fullDomain, Clear: req.Clear, Records: []dns.Record{}, Err: err}
	}

	action := "updated"
	if req.Clear {
		action = "deleted"
	}

	for i, rec := range records {
		if err := r.reconcileRecord(ctx, fullSubdomain, rec, req.Clear); err != nil {
			r.Log.Error(err, "error handling record", "type", rec.Type, "domain", fullDomain, "content", rec.Content)
			return Result{
				Status:  StatusProviderError,
				Domain:  fullDomain,
				Clear:   req.Clear,
				Records: records[:i+1],
				Err:     err,
			}
		}
		r.Log.Info("record "+action, "type", rec.Type, "domain", fullDomain, "content", rec.Content)
	}

	return Result{Status: StatusOK, Domain: fullDomain, Clear: req.Clear, Records: records}
}

// reconcileRecord deletes whatever the provider holds for name/type and,
// unless clearing, creates the desired record.
func (r *UpdateReconciler) reconcileRecord(ctx context.Context, name string, rec dns.Record, clear bool) error {
	resp, err := r.DNS.DeleteRecord(ctx, name, rec.Type, rec.Content)
	observeOperation("delete", rec.Type, err)
	if err != nil {
		return fmt.Errorf("deleting %s record %s: %w", rec.Type, name, err)
	}
	if resp != nil {
		r.Log.V(1).Info("provider delete response", "type", rec.Type, "name", name, "status", resp.Status)
	}

	if clear {
		return nil
	}

	resp, err = r.DNS.CreateRecord(ctx, name, rec.Type, rec.Content)
	observeOperation("create", rec.Type, err)
	if err != nil {
		return fmt.Errorf("creating %s record %s: %w", rec.Type, name, err)
	}
	if resp != nil {
		r.Log.V(1).Info("provider create response", "type", rec.Type, "name", name, "status", resp.Status, "id", resp.ID)
	}
	return nil
}

func (r *UpdateReconciler) authorized(token *string) bool {
	if r.Token == "" {
		return true
	}
	if token == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*token), []byte(r.Token)) == 1
}

func (r *UpdateReconciler) resolveLabel(subdomain *string) (string, error) {
	if subdomain != nil {
		return ValidateLabel(*subdomain)
	}
	newLabel := r.NewLabel
	if newLabel == nil {
		newLabel = RandomLabel
	}
	label, err := newLabel()
	if err != nil {
		return "", fmt.Errorf("generating subdomain: %w", err)
	}
	return label, nil
}
