package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Log     LogConfig     `yaml:"log"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Sync    SyncConfig    `yaml:"sync"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // debug/info/warn/error
	Encoding string `yaml:"encoding"` // json/console
}

// BridgeConfig brokerage bridge 的接入参数。
type BridgeConfig struct {
	BaseURL    string  `yaml:"baseURL"`
	WSEndpoint string  `yaml:"wsEndpoint"`
	Token      string  `yaml:"token"`
	RateLimit  float64 `yaml:"rateLimit"` // REST 每秒请求数上限，0 表示不限流
	RateBurst  int     `yaml:"rateBurst"`
}

// SyncConfig smart sync 与对账参数，时间一律毫秒。
type SyncConfig struct {
	ThresholdMs         int `yaml:"thresholdMs"`         // 0 表示读永远走本地
	QueryTimeoutMs      int `yaml:"queryTimeoutMs"`      // 远端快照查询超时
	ReconcileIntervalMs int `yaml:"reconcileIntervalMs"` // 0 表示只按读触发对账
}

func (s SyncConfig) Threshold() time.Duration {
	return time.Duration(s.ThresholdMs) * time.Millisecond
}

func (s SyncConfig) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutMs) * time.Millisecond
}

func (s SyncConfig) ReconcileInterval() time.Duration {
	return time.Duration(s.ReconcileIntervalMs) * time.Millisecond
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 为空则不启动 /metrics
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("PS_BRIDGE_BASE_URL"); v != "" {
		cfg.Bridge.BaseURL = v
	}
	if v := os.Getenv("PS_BRIDGE_WS_ENDPOINT"); v != "" {
		cfg.Bridge.WSEndpoint = v
	}
	if v := os.Getenv("PS_BRIDGE_TOKEN"); v != "" {
		cfg.Bridge.Token = v
	}
	return cfg, Validate(cfg)
}
