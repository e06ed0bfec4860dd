package config

import "time"

// ObservabilityConfig drives the sidecar server that exposes probes and
// Prometheus metrics, separate from the control-plane listener.
type ObservabilityConfig struct {
	// Port the probe/metrics server listens on.
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds reads, writes, and dependency checks on this server.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	// LivenessPath answers "is the process up"; no dependencies checked.
	LivenessPath string `envconfig:"LIVENESS_PATH" default:"/healthz"`

	// ReadinessPath answers "can the process serve"; checks Postgres and,
	// when configured, Redis.
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`

	// MetricsPath serves the Prometheus exposition format.
	MetricsPath string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks ObservabilityConfig fields for correctness.
func (o *ObservabilityConfig) Validate() error {
	return validatePort(o.Port, "observability")
}
