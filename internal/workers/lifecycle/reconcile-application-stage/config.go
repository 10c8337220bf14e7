// internal/workers/lifecycle/reconcile-application-stage/config.go
package reconcileapplicationstage

import (
	"time"

	"loan-lifecycle/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 5 * time.Second,
	}
}

// ConfigFrom applies the worker's configured timeout over the defaults.
func ConfigFrom(w config.WorkerConfig) *Config {
	cfg := LoadConfig()
	if w.Timeout > 0 {
		cfg.Timeout = config.GetDuration(w.Timeout)
	}
	return cfg
}
