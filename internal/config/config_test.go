/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seatunnel/procd/internal/restart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig tests configuration loading
// TestLoadConfig 测试配置加载
func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
supervisor:
  ecosystem: /srv/app/ecosystem.yaml
  stop_timeout: 3s
  probe_ports: true

restart:
  base_delay: 50ms
  max_delay: 2s
  max_restarts: 5
  window: 30s

control:
  addr: "127.0.0.1:7000"
  token: secret

log:
  level: debug
  output: both
  file_path: /tmp/procd.log

process_logs:
  dir: /tmp/procd-apps

journal:
  enabled: true
  database:
    type: sqlite
    sqlite_path: /tmp/procd.db
  batch_size: 10
  retention: 168h
  prune_interval: 30m

notify:
  redis:
    enabled: true
    host: redis.local
    port: 6380
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/app/ecosystem.yaml", cfg.Supervisor.Ecosystem)
	assert.Equal(t, 3*time.Second, cfg.Supervisor.StopTimeout)
	assert.True(t, cfg.Supervisor.ProbePorts)
	assert.Equal(t, 50*time.Millisecond, cfg.Restart.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Restart.MaxDelay)
	assert.Equal(t, 5, cfg.Restart.MaxRestarts)
	assert.Equal(t, 30*time.Second, cfg.Restart.Window)
	assert.Equal(t, restart.DefaultMultiplier, cfg.Restart.Multiplier)
	assert.Equal(t, "127.0.0.1:7000", cfg.Control.Addr)
	assert.Equal(t, "secret", cfg.Control.Token)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "both", cfg.Log.Output)
	assert.Equal(t, "/tmp/procd-apps", cfg.ProcessLogs.Dir)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/procd.db", cfg.Journal.Database.SQLitePath)
	assert.Equal(t, 10, cfg.Journal.BatchSize)
	assert.Equal(t, 168*time.Hour, cfg.Journal.Retention)
	assert.Equal(t, 30*time.Minute, cfg.Journal.PruneInterval)
	assert.Equal(t, "redis.local:6380", cfg.Notify.Redis.Addr())
	assert.Equal(t, DefaultRedisChannel, cfg.Notify.Redis.Channel)
}

// TestLoadConfigDefaults tests that a missing file falls back to defaults
// TestLoadConfigDefaults 测试配置文件不存在时使用默认值
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultEcosystem, cfg.Supervisor.Ecosystem)
	assert.Equal(t, DefaultStopTimeout, cfg.Supervisor.StopTimeout)
	assert.Equal(t, DefaultEventBuffer, cfg.Supervisor.EventBuffer)
	assert.Equal(t, restart.DefaultConfig(), cfg.Restart)
	assert.Equal(t, DefaultControlAddr, cfg.Control.Addr)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultProcessLogDir, cfg.ProcessLogs.Dir)
	assert.False(t, cfg.Journal.Enabled)
	assert.Zero(t, cfg.Journal.Retention)
	assert.Equal(t, DefaultPruneInterval, cfg.Journal.PruneInterval)
	assert.Equal(t, "sqlite", cfg.Journal.Database.Type)
	assert.False(t, cfg.Notify.Redis.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio)
}

// TestLoadConfigInvalidFile tests that an unparsable file is an error
// TestLoadConfigInvalidFile 测试无法解析的配置文件返回错误
func TestLoadConfigInvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("supervisor: [unterminated"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

// TestLoadConfigEnvOverride tests PROCD_ environment overrides
// TestLoadConfigEnvOverride 测试 PROCD_ 环境变量覆盖
func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PROCD_CONTROL_ADDR", "0.0.0.0:9999")
	t.Setenv("PROCD_SUPERVISOR_STOP_TIMEOUT", "1s")
	t.Setenv("PROCD_LOG_LEVEL", "warn")

	cfg, err := LoadFromYAML([]byte("log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.Control.Addr)
	assert.Equal(t, time.Second, cfg.Supervisor.StopTimeout)
	assert.Equal(t, "warn", cfg.Log.Level)
}

// TestLoadConfigPathFromEnv tests PROCD_CONFIG_PATH
// TestLoadConfigPathFromEnv 测试 PROCD_CONFIG_PATH 环境变量
func TestLoadConfigPathFromEnv(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "procd.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("supervisor:\n  ecosystem: apps.yaml\n"), 0644))
	t.Setenv(EnvConfigPath, configPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "apps.yaml", cfg.Supervisor.Ecosystem)
}

// TestValidateConfig tests configuration validation
// TestValidateConfig 测试配置验证
func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "empty ecosystem", mutate: func(c *Config) { c.Supervisor.Ecosystem = "" }, wantErr: "supervisor.ecosystem"},
		{name: "zero stop timeout", mutate: func(c *Config) { c.Supervisor.StopTimeout = 0 }, wantErr: "stop_timeout"},
		{name: "bad restart", mutate: func(c *Config) { c.Restart.Multiplier = 0.5 }, wantErr: "restart"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "invalid log level"},
		{name: "bad log output", mutate: func(c *Config) { c.Log.Output = "syslog" }, wantErr: "invalid log output"},
		{name: "bad control addr", mutate: func(c *Config) { c.Control.Addr = "nocolon" }, wantErr: "control.addr"},
		{name: "bad journal type", mutate: func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.Database.Type = "oracle"
		}, wantErr: "journal.database.type"},
		{name: "negative retention", mutate: func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.Retention = -time.Hour
		}, wantErr: "journal.retention"},
		{name: "retention without interval", mutate: func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.Retention = time.Hour
			c.Journal.PruneInterval = 0
		}, wantErr: "journal.prune_interval"},
		{name: "empty redis channel", mutate: func(c *Config) {
			c.Notify.Redis.Enabled = true
			c.Notify.Redis.Channel = ""
		}, wantErr: "notify.redis.channel"},
		{name: "bad sample ratio", mutate: func(c *Config) { c.Telemetry.SampleRatio = 2 }, wantErr: "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromYAML([]byte("{}"))
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
