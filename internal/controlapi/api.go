// Package controlapi implements the REST surface of the Beacon control
// plane: evaluation, configuration reads, manifest sync, and tenant override
// management. It handles routing, decoding, and response formatting; all
// domain behavior lives behind the injected service interfaces.
package controlapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/luminohq/beacon/internal/evaluation"
	"github.com/luminohq/beacon/internal/governance"
	"github.com/luminohq/beacon/internal/ruleengine"
)

// FlagService is the slice of the evaluation facade the API depends on.
// An interface keeps handlers testable with an in-package fake.
type FlagService interface {
	Evaluate(ctx context.Context, flagKey string, ectx ruleengine.Context, opts evaluation.Options) ruleengine.Result
	EvaluateAll(ctx context.Context, ectx ruleengine.Context, opts evaluation.Options) map[string]ruleengine.Result
	GetConfigValue(ctx context.Context, key string, opts evaluation.ConfigOptions) (any, error)
	ListConfigForAudience(ctx context.Context, environment string, opts evaluation.AudienceOptions) map[string]evaluation.ConfigView
	ApplyTenantOverride(ctx context.Context, flagKey, tenantID, environment, state, variantKey string, metadata map[string]string) (*evaluation.OverrideOutcome, error)
	RemoveTenantOverride(ctx context.Context, flagKey, tenantID, environment, actor string) (*evaluation.OverrideOutcome, error)
	ForceRefresh(ctx context.Context) error
}

// Syncer reconciles manifests; implemented by the governance engine.
type Syncer interface {
	Sync(ctx context.Context, manifest *governance.Manifest, actor string, dryRun bool) (*governance.Summary, error)
}

// API holds dependencies and the router for the control plane.
type API struct {
	Router *chi.Mux

	service FlagService
	syncer  Syncer

	// apiKeyHash is the SHA-256 hash of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication (test/dev environments only).
	skipAuth bool
}

// NewAPI creates an API with authentication enabled. apiKeyHash must be the
// SHA-256 hash of the API key.
func NewAPI(service FlagService, syncer Syncer, apiKeyHash string) *API {
	return NewAPIWithConfig(service, syncer, apiKeyHash, false)
}

// NewAPIWithConfig allows tests to disable authentication. Panics on nil
// dependencies, or on an empty key hash while auth is enabled.
func NewAPIWithConfig(service FlagService, syncer Syncer, apiKeyHash string, skipAuth bool) *API {
	if service == nil {
		panic("controlapi: flag service cannot be nil")
	}
	if syncer == nil {
		panic("controlapi: syncer cannot be nil")
	}
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		service:    service,
		syncer:     syncer,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}
	api.configureRoutes()
	return api
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		// Evaluation is read-only but still keyed: flag state can leak
		// rollout plans, so the whole v1 surface sits behind auth.
		r.Post("/evaluate", a.handleEvaluateAll)
		r.Post("/evaluate/{key}", a.handleEvaluate)

		r.Route("/config", func(r chi.Router) {
			r.Get("/", a.handleListConfig)
			r.Get("/{key}", a.handleGetConfig)
		})

		r.Route("/flags/{key}/overrides", func(r chi.Router) {
			r.Put("/", a.handleApplyOverride)
			r.Delete("/", a.handleRemoveOverride)
		})

		r.Post("/sync", a.handleSync)
		r.Post("/refresh", a.handleRefresh)
	})
}

// handleHealthCheck reports HTTP serving capability. Dependency-aware
// liveness/readiness probes live on the observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
