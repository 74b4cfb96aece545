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

package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/seatunnel/procd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHelpersWriteThroughInstalledLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(zap.NewNop()) })

	ctx := context.Background()
	Info(ctx, "process started", zap.String("name", "api"))
	WarnF(ctx, "[Supervisor] %s crashed", "api")
	Error(ctx, "spawn failed")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "process started", entries[0].Message)
	assert.Equal(t, "api", entries[0].ContextMap()["name"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "[Supervisor] api crashed", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procd.log")
	l, err := New(config.LogConfig{Level: "info", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)

	l.Info("written", zap.Int("pid", 42))
	l.Debug("filtered")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written"`)
	assert.Contains(t, string(data), `"pid":42`)
	assert.NotContains(t, string(data), "filtered")
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Output: "stdout"})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Output: "file"})
	assert.Error(t, err)
}
