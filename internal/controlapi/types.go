package controlapi

import (
	"net/http"
	"strings"

	"github.com/luminohq/beacon/internal/beaconerr"
	"github.com/luminohq/beacon/internal/governance"
	"github.com/luminohq/beacon/internal/ruleengine"
)

// EvaluateRequest is the body of POST /evaluate and /evaluate/{key}.
type EvaluateRequest struct {
	Context           ruleengine.Context `json:"context"`
	IncludeDefinition bool               `json:"include_definition,omitempty"`
}

// EvaluateAllResponse wraps the bulk evaluation result.
type EvaluateAllResponse struct {
	Results map[string]ruleengine.Result `json:"results"`
}

// ConfigValueResponse is the body of GET /config/{key}.
type ConfigValueResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// SyncRequest is the body of POST /sync. The manifest is inlined so a CI job
// can post its desired state directly.
type SyncRequest struct {
	Manifest governance.Manifest `json:"manifest"`
	Actor    string              `json:"actor"`
	DryRun   bool                `json:"dry_run,omitempty"`
}

// Sanitize trims the actor field.
func (r *SyncRequest) Sanitize() {
	r.Actor = strings.TrimSpace(r.Actor)
}

// Validate enforces the request-level rules; manifest entries are validated
// by the sync engine itself.
func (r *SyncRequest) Validate() *ErrorResponse {
	if r.Actor == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Actor is required for audit attribution",
		}
	}
	return nil
}

// ApplyOverrideRequest is the body of PUT /flags/{key}/overrides.
type ApplyOverrideRequest struct {
	TenantID    string            `json:"tenant_id"`
	Environment string            `json:"environment,omitempty"`
	State       string            `json:"state"`
	VariantKey  string            `json:"variant_key,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Sanitize normalizes the override fields in place.
func (r *ApplyOverrideRequest) Sanitize() {
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.Environment = strings.ToLower(strings.TrimSpace(r.Environment))
	r.State = strings.ToLower(strings.TrimSpace(r.State))
}

// ErrorResponse is the standard structured API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponseFor maps a tagged domain error onto a transport response.
// Operator-facing operations surface the underlying message verbatim.
func errorResponseFor(err error) (int, ErrorResponse) {
	switch beaconerr.KindOf(err) {
	case beaconerr.KindValidation:
		return http.StatusBadRequest, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()}
	case beaconerr.KindNotFound:
		return http.StatusNotFound, ErrorResponse{Code: "ERR_NOT_FOUND", Message: err.Error()}
	case beaconerr.KindConflict:
		return http.StatusConflict, ErrorResponse{Code: "ERR_CONFLICT", Message: err.Error()}
	case beaconerr.KindUnavailable:
		return http.StatusServiceUnavailable, ErrorResponse{Code: "ERR_UPSTREAM_UNAVAILABLE", Message: "Upstream dependency unavailable"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: "ERR_INTERNAL", Message: "Internal server error"}
	}
}
