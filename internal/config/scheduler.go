// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig representa a configuração completa do backup-scheduler.
type SchedulerConfig struct {
	Backup  BackupPathConfig `yaml:"backup"`
	Store   StoreConfig      `yaml:"store"`
	Control ControlConfig    `yaml:"control"`
	Logging LoggingInfo      `yaml:"logging"`
	Metrics MetricsConfig    `yaml:"metrics"`
}

// BackupPathConfig localiza o diretório de artefatos e o grau de
// concorrência permitido.
type BackupPathConfig struct {
	Path                  string        `yaml:"path"`
	MaxProcesses          int           `yaml:"max_processes"`
	CommandChannelTimeout time.Duration `yaml:"command_channel_timeout"`
	SessionLogDir         string        `yaml:"session_log_dir"`

	// MaxArtifactSize limita o tamanho anunciado de um payload antes do
	// worker aceitar a transferência ("2gb", "512mb"). Vazio = sem limite.
	MaxArtifactSize    string `yaml:"max_artifact_size"`
	MaxArtifactSizeRaw int64  `yaml:"-"`
}

// StoreConfig localiza o arquivo de persistência (buntdb). Um path vazio
// ou ":memory:" roda inteiramente em memória — útil para testes e para um
// scheduler efêmero.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ControlConfig configura o front-end de controle opcional exposto por
// cmd/backup-scheduler sobre um socket unix, fora do core do scheduler.
type ControlConfig struct {
	Enabled       bool      `yaml:"enabled"`
	SocketPath    string    `yaml:"socket_path"`
	RequestBuffer int       `yaml:"request_buffer"`
	JWT           JWTConfig `yaml:"jwt"`
}

// JWTConfig habilita autenticação por bearer token nos envelopes de
// comando recebidos pelo socket de controle. Desabilitado por padrão;
// nunca exigido pelo motor do scheduler em si.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	HMACKey string `yaml:"hmac_key"`
}

// MetricsConfig configura o endpoint HTTP de métricas Prometheus.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default: "127.0.0.1:9849"
}

// LoadSchedulerConfig lê e valida o arquivo YAML de configuração do
// scheduler.
func LoadSchedulerConfig(path string) (*SchedulerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scheduler config: %w", err)
	}

	var cfg SchedulerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing scheduler config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating scheduler config: %w", err)
	}

	return &cfg, nil
}

func (c *SchedulerConfig) validate() error {
	if c.Backup.Path == "" {
		return fmt.Errorf("backup.path is required")
	}
	if c.Backup.MaxProcesses <= 0 {
		c.Backup.MaxProcesses = 4
	}
	if c.Backup.CommandChannelTimeout <= 0 {
		c.Backup.CommandChannelTimeout = 10 * time.Second
	}
	if c.Backup.MaxArtifactSize != "" {
		parsed, err := ParseByteSize(c.Backup.MaxArtifactSize)
		if err != nil {
			return fmt.Errorf("backup.max_artifact_size: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("backup.max_artifact_size must be positive, got %s", c.Backup.MaxArtifactSize)
		}
		c.Backup.MaxArtifactSizeRaw = parsed
	}

	if c.Store.Path == "" {
		c.Store.Path = ":memory:"
	}

	if c.Control.RequestBuffer <= 0 {
		c.Control.RequestBuffer = 16
	}
	if c.Control.Enabled {
		if c.Control.SocketPath == "" {
			return fmt.Errorf("control.socket_path is required when control.enabled is true")
		}
		if c.Control.JWT.Enabled && c.Control.JWT.HMACKey == "" {
			return fmt.Errorf("control.jwt.hmac_key is required when control.jwt.enabled is true")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9849"
	}

	return nil
}
