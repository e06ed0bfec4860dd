package controlapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/luminohq/beacon/internal/evaluation"
	"github.com/luminohq/beacon/internal/logger"
)

// handleEvaluate processes POST /api/v1/evaluate/{key}. Evaluation has no
// error path: unknown keys come back as a safe flag-not-found decision.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	flagKey := chi.URLParam(r, "key")

	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	result := a.service.Evaluate(r.Context(), flagKey, req.Context,
		evaluation.Options{IncludeDefinition: req.IncludeDefinition})

	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

// handleEvaluateAll processes POST /api/v1/evaluate.
func (a *API) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	results := a.service.EvaluateAll(r.Context(), req.Context,
		evaluation.Options{IncludeDefinition: req.IncludeDefinition})

	render.Status(r, http.StatusOK)
	render.JSON(w, r, EvaluateAllResponse{Results: results})
}

// handleGetConfig processes GET /api/v1/config/{key}.
// Query parameters: environment, audience, include_sensitive, default.
func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	q := r.URL.Query()

	opts := evaluation.ConfigOptions{
		Environment:      q.Get("environment"),
		Audience:         q.Get("audience"),
		IncludeSensitive: parseOptionalBool(q.Get("include_sensitive")),
	}
	if def := q.Get("default"); def != "" {
		opts.Default = def
	}

	value, err := a.service.GetConfigValue(r.Context(), key, opts)
	if err != nil {
		status, resp := errorResponseFor(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ConfigValueResponse{Key: key, Value: value})
}

// handleListConfig processes GET /api/v1/config.
func (a *API) handleListConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	listing := a.service.ListConfigForAudience(r.Context(), q.Get("environment"),
		evaluation.AudienceOptions{
			Audience:         q.Get("audience"),
			IncludeSensitive: parseOptionalBool(q.Get("include_sensitive")),
		})

	render.Status(r, http.StatusOK)
	render.JSON(w, r, listing)
}

// handleSync processes POST /api/v1/sync.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req SyncRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	summary, err := a.syncer.Sync(r.Context(), &req.Manifest, req.Actor, req.DryRun)
	if err != nil {
		log.Warn("manifest sync failed",
			slog.String("actor", req.Actor),
			slog.String("error", err.Error()),
		)
		status, resp := errorResponseFor(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("manifest sync completed",
		slog.String("actor", req.Actor),
		slog.Bool("dry_run", req.DryRun),
		slog.String("summary", summary.String()),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, summary)
}

// handleApplyOverride processes PUT /api/v1/flags/{key}/overrides.
func (a *API) handleApplyOverride(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	flagKey := chi.URLParam(r, "key")

	var req ApplyOverrideRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}
	req.Sanitize()

	outcome, err := a.service.ApplyTenantOverride(r.Context(), flagKey,
		req.TenantID, req.Environment, req.State, req.VariantKey, req.Metadata)
	if err != nil {
		status, resp := errorResponseFor(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("tenant override applied",
		slog.String("flag_key", flagKey),
		slog.String("tenant_id", req.TenantID),
		slog.String("state", req.State),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, outcome)
}

// handleRemoveOverride processes DELETE /api/v1/flags/{key}/overrides.
// Query parameters: tenant_id (required), environment, requested_by (for
// audit attribution).
func (a *API) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	flagKey := chi.URLParam(r, "key")
	q := r.URL.Query()

	outcome, err := a.service.RemoveTenantOverride(r.Context(), flagKey,
		q.Get("tenant_id"), q.Get("environment"), q.Get("requested_by"))
	if err != nil {
		status, resp := errorResponseFor(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("tenant override removed",
		slog.String("flag_key", flagKey),
		slog.String("tenant_id", q.Get("tenant_id")),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, outcome)
}

// handleRefresh processes POST /api/v1/refresh: a forced, TTL-bypassing
// reload of both caches. Unlike lazy refreshes, failures surface here.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if err := a.service.ForceRefresh(r.Context()); err != nil {
		log.Error("forced refresh failed", slog.String("error", err.Error()))
		status, resp := errorResponseFor(err)
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "refreshed"})
}

// parseOptionalBool reads a query flag; absent or malformed reads as false.
func parseOptionalBool(value string) bool {
	if value == "" {
		return false
	}
	b, err := strconv.ParseBool(value)
	return err == nil && b
}
