// Package config loads ACP Bridge configuration from environment variables,
// an optional JSON config file, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/common/logger"
)

// AgentTypeOverride customizes the command/args/env used to launch a given
// agent type, overriding the built-in fallback candidate lists.
type AgentTypeOverride struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TaskConfig holds task scheduler knobs.
type TaskConfig struct {
	MaxCompletedTasks int `mapstructure:"maxCompletedTasks"`
	TaskTTLMs         int `mapstructure:"taskTTLMs"`
}

// Config is the daemon's top-level, read-once configuration value.
type Config struct {
	Server      ServerConfig                 `mapstructure:"server"`
	Logging     LoggingConfig                `mapstructure:"logging"`
	AskTimeout  int                          `mapstructure:"askTimeoutMs"`
	Tasks       TaskConfig                   `mapstructure:"tasks"`
	Agents      map[string]AgentTypeOverride `mapstructure:"agents"`
	AgentBinary string                       `mapstructure:"agentCommand"`
}

// LoggingConfig mirrors internal/common/logger.Config for mapstructure binding.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7800)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("askTimeoutMs", 300000)

	v.SetDefault("tasks.maxCompletedTasks", 100)
	v.SetDefault("tasks.taskTTLMs", 3_600_000)

	v.SetDefault("agentCommand", "")
	v.SetDefault("agents", map[string]any{})
}

// Load reads configuration from the ACP_BRIDGE_ env prefix, an optional
// config.json in the current directory or /etc/acp-bridge/, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is like Load but additionally searches configPath for
// config.json. A file that exists but cannot be read or parsed is logged as
// a structured warning and treated as empty (§7); an error is returned only
// when the merged settings fail to unmarshal or validate.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACP_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.host", "ACP_BRIDGE_HOST")
	_ = v.BindEnv("server.port", "ACP_BRIDGE_PORT")
	_ = v.BindEnv("askTimeoutMs", "ACP_BRIDGE_ASK_TIMEOUT_MS")
	_ = v.BindEnv("tasks.maxCompletedTasks", "ACP_BRIDGE_MAX_TASKS")
	_ = v.BindEnv("tasks.taskTTLMs", "ACP_BRIDGE_TASK_TTL_MS")
	_ = v.BindEnv("agentCommand", "ACP_BRIDGE_AGENT_COMMAND")
	_ = v.BindEnv("logging.level", "ACP_BRIDGE_LOG_LEVEL")
	_ = v.BindEnv("logging.format", "ACP_BRIDGE_LOG_FORMAT")

	v.SetConfigName("config")
	v.SetConfigType("json")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/acp-bridge/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Default().Warn("malformed config file; treating it as empty", zap.Error(err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	expandHome(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// expandHome expands a leading "~" in per-type command overrides against $HOME.
func expandHome(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	for typ, override := range cfg.Agents {
		if strings.HasPrefix(override.Command, "~") {
			override.Command = filepath.Join(home, strings.TrimPrefix(override.Command, "~"))
			cfg.Agents[typ] = override
		}
	}
	if strings.HasPrefix(cfg.AgentBinary, "~") {
		cfg.AgentBinary = filepath.Join(home, strings.TrimPrefix(cfg.AgentBinary, "~"))
	}
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console, text")
	}

	if cfg.AskTimeout <= 0 {
		errs = append(errs, "askTimeoutMs must be positive")
	}
	if cfg.Tasks.MaxCompletedTasks <= 0 {
		errs = append(errs, "tasks.maxCompletedTasks must be positive")
	}
	if cfg.Tasks.TaskTTLMs <= 0 {
		errs = append(errs, "tasks.taskTTLMs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
