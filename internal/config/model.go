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
	"time"

	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/restart"
)

// Config represents the daemon configuration
// Config 表示守护进程配置
type Config struct {
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Restart     restart.Config    `mapstructure:"restart"`
	Control     ControlConfig     `mapstructure:"control"`
	Log         LogConfig         `mapstructure:"log"`
	ProcessLogs process.LogConfig `mapstructure:"process_logs"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// SupervisorConfig 监管配置
type SupervisorConfig struct {
	// Ecosystem is the path of the process definition file
	// Ecosystem 是进程定义文件路径
	Ecosystem   string        `mapstructure:"ecosystem"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	ProbePorts  bool          `mapstructure:"probe_ports"`
	EventBuffer int           `mapstructure:"event_buffer"`
	// PortEnvKeys 用于推断端口的环境变量名
	PortEnvKeys []string `mapstructure:"port_env_keys"`
}

// ControlConfig contains the control API settings
// ControlConfig 包含控制接口设置
type ControlConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
	// ShutdownTimeout bounds the graceful HTTP shutdown
	// ShutdownTimeout 限制 HTTP 优雅关闭的时间
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, console
	Output     string `mapstructure:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// JournalConfig controls the persistent transition history
// JournalConfig 控制持久化的状态变化历史
type JournalConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Database      DatabaseConfig `mapstructure:"database"`
	QueueSize     int            `mapstructure:"queue_size"`
	BatchSize     int            `mapstructure:"batch_size"`
	FlushInterval time.Duration  `mapstructure:"flush_interval"`
	// Retention drops records older than this; zero keeps everything
	// Retention 删除早于该时长的记录，为零时全部保留
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string `mapstructure:"type"`        // sqlite, mysql, postgres
	SQLitePath      string `mapstructure:"sqlite_path"` // SQLite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConn     int    `mapstructure:"max_idle_conn"`
	MaxOpenConn     int    `mapstructure:"max_open_conn"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

// NotifyConfig 事件通知配置
type NotifyConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConn  int    `mapstructure:"min_idle_conn"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// Channel receives one JSON message per transition
	// Channel 每次状态变化接收一条 JSON 消息
	Channel   string `mapstructure:"channel"`
	QueueSize int    `mapstructure:"queue_size"`
}

// TelemetryConfig OpenTelemetry 配置
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}
