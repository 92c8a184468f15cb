// Package config loads the coordination configuration from file and
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// Config is the root configuration for the coordination service.
type Config struct {
	Coordination shared.AdvancedCoordinationConfig `mapstructure:"coordination"`
	Logger       LoggerConfig                      `mapstructure:"logger"`
	Metrics      MetricsConfig                     `mapstructure:"metrics"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config.yaml (from the working directory or ./configs), applies
// environment overrides, and fills in defaults. A missing file is not an
// error; the service runs on env and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// COORDINATION_MAX_AGENTS=128 overrides coordination.max_agents.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	coord := shared.DefaultAdvancedCoordinationConfig()

	v.SetDefault("coordination.max_agents", coord.MaxAgents)
	v.SetDefault("coordination.mailbox_capacity", coord.MailboxCapacity)
	v.SetDefault("coordination.broadcast_buffer", coord.BroadcastBuffer)
	v.SetDefault("coordination.message_history_limit", coord.MessageHistoryLimit)
	v.SetDefault("coordination.heartbeat_interval_ms", coord.HeartbeatIntervalMs)
	v.SetDefault("coordination.agent_timeout_ms", coord.AgentTimeoutMs)
	v.SetDefault("coordination.max_session_participants", coord.MaxSessionParticipants)
	v.SetDefault("coordination.lock_sweep_interval_ms", coord.LockSweepIntervalMs)
	v.SetDefault("coordination.send_rate_limit", coord.SendRateLimit)
	v.SetDefault("coordination.send_rate_burst", coord.SendRateBurst)

	v.SetDefault("coordination.enable_encryption", coord.EnableEncryption)
	v.SetDefault("coordination.encryption_algorithm", string(coord.EncryptionAlgorithm))
	v.SetDefault("coordination.enable_load_balancing", coord.EnableLoadBalancing)
	v.SetDefault("coordination.load_balancing_strategy", string(coord.LoadBalancingStrategy))
	v.SetDefault("coordination.enable_fault_tolerance", coord.EnableFaultTolerance)
	v.SetDefault("coordination.breaker.threshold", coord.Breaker.Threshold)
	v.SetDefault("coordination.breaker.timeout_ms", coord.Breaker.TimeoutMs)
	v.SetDefault("coordination.enable_advanced_sessions", coord.EnableAdvancedSessions)
	v.SetDefault("coordination.monitor.alerting_enabled", coord.Monitor.AlertingEnabled)
	v.SetDefault("coordination.monitor.latency_threshold_ms", coord.Monitor.LatencyThresholdMs)
	v.SetDefault("coordination.monitor.memory_threshold_mb", coord.Monitor.MemoryThresholdMB)
	v.SetDefault("coordination.monitor.cpu_threshold_pct", coord.Monitor.CPUThresholdPct)
	v.SetDefault("coordination.monitor.max_alerts", coord.Monitor.MaxAlerts)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}
