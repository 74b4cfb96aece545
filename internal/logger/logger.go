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

// Package logger builds the daemon zap logger and exposes context-aware helpers
// that attach the active trace to each entry.
// logger 包构建守护进程的 zap 日志器，并提供携带链路信息的日志方法。
package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/seatunnel/procd/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	base   = zap.NewNop()
	global = otelzap.New(base)
)

// New builds a zap logger from cfg: console or JSON encoding, written to
// stdout, a lumberjack rotated file, or both
// New 根据配置构建 zap 日志器
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sinks []zapcore.WriteSyncer
	if cfg.Output == "" || cfg.Output == "stdout" || cfg.Output == "both" {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}))
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("log output %q has no destination", cfg.Output)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Init builds the logger and installs it as the package logger and zap global
// Init 构建日志器并设置为全局日志器
func Init(cfg config.LogConfig) (*zap.Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	Set(l)
	return l, nil
}

// Set installs l as the package logger
// Set 设置包级日志器
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	global = otelzap.New(l.WithOptions(zap.AddCallerSkip(1)))
	zap.ReplaceGlobals(l)
}

// L returns the underlying zap logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries
func Sync() error {
	return L().Sync()
}

func current() *otelzap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	current().Ctx(ctx).Debug(msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	current().Ctx(ctx).Info(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	current().Ctx(ctx).Warn(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	current().Ctx(ctx).Error(msg, fields...)
}

// InfoF logs a formatted message
func InfoF(ctx context.Context, format string, args ...interface{}) {
	current().Sugar().Ctx(ctx).Infof(format, args...)
}

func WarnF(ctx context.Context, format string, args ...interface{}) {
	current().Sugar().Ctx(ctx).Warnf(format, args...)
}

func ErrorF(ctx context.Context, format string, args ...interface{}) {
	current().Sugar().Ctx(ctx).Errorf(format, args...)
}
