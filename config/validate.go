package config

import "errors"

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Bridge.BaseURL == "" {
		return errors.New("bridge.baseURL is required")
	}
	if cfg.Bridge.WSEndpoint == "" {
		return errors.New("bridge.wsEndpoint is required")
	}
	if cfg.Bridge.Token == "" {
		return errors.New("bridge.token is required (or PS_BRIDGE_TOKEN)")
	}
	if cfg.Bridge.RateLimit < 0 || cfg.Bridge.RateBurst < 0 {
		return errors.New("bridge rate limit must be >= 0")
	}
	if cfg.Sync.ThresholdMs < 0 {
		return errors.New("sync.thresholdMs must be >= 0")
	}
	if cfg.Sync.QueryTimeoutMs < 0 {
		return errors.New("sync.queryTimeoutMs must be >= 0")
	}
	if cfg.Sync.ReconcileIntervalMs < 0 {
		return errors.New("sync.reconcileIntervalMs must be >= 0")
	}
	return nil
}
