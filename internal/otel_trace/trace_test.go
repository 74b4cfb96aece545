/*
 * MIT License
 *
 * Copyright (c) 2025 linux.do
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package otel_trace

import (
	"context"
	"testing"
	"time"

	"github.com/seatunnel/procd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInitDisabledUsesNoop(t *testing.T) {
	require.NoError(t, Init(context.Background(), config.TelemetryConfig{}, zaptest.NewLogger(t)))
	assert.False(t, IsEnabled())

	_, span := Start(context.Background(), "dispatch")
	defer span.End()
	assert.False(t, span.IsRecording())
}

func TestInitEnabledRecordsSpans(t *testing.T) {
	cfg := config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "procd-test",
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		SampleRatio: 1,
	}
	require.NoError(t, Init(context.Background(), cfg, zaptest.NewLogger(t)))
	t.Cleanup(func() {
		_ = Init(context.Background(), config.TelemetryConfig{}, nil)
	})
	assert.True(t, IsEnabled())

	ctx, span := Start(context.Background(), "dispatch")
	assert.True(t, span.IsRecording())
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	assert.NotNil(t, ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = Shutdown(shutdownCtx) // no collector is listening
	assert.False(t, IsEnabled())
}
