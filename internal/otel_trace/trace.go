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

// Package otel_trace wires OpenTelemetry tracing for the daemon: an OTLP/gRPC
// exporter when enabled, a noop tracer otherwise.
// otel_trace 包为守护进程配置 OpenTelemetry 追踪。
package otel_trace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seatunnel/procd/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"
)

// InstrumentationName names the tracer of the daemon
const InstrumentationName = "github.com/seatunnel/procd"

var (
	Tracer        trace.Tracer
	shutdownFuncs []func(context.Context) error
	enabled       bool
	mu            sync.Mutex
)

// Init initializes the OpenTelemetry tracing based on configuration.
// A disabled config or a failing exporter leaves a noop tracer installed.
// Init 根据配置初始化 OpenTelemetry 追踪，禁用或初始化失败时使用空操作追踪器。
func Init(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()

	if !cfg.Enabled {
		logger.Info("[Trace] OpenTelemetry tracing is disabled / OpenTelemetry 追踪已禁用")
		Tracer = noop.NewTracerProvider().Tracer("noop")
		enabled = false
		return nil
	}

	otel.SetTextMapPropagator(newPropagator())

	tracerProvider, err := newTracerProvider(ctx, cfg)
	if err != nil {
		logger.Warn("[Trace] Failed to init trace provider, using noop tracer / 初始化追踪提供者失败，使用空操作追踪器", zap.Error(err))
		Tracer = noop.NewTracerProvider().Tracer("noop")
		enabled = false
		return err
	}

	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	Tracer = tracerProvider.Tracer(InstrumentationName)
	enabled = true
	logger.Info("[Trace] OpenTelemetry tracing initialized / OpenTelemetry 追踪已初始化",
		zap.String("endpoint", cfg.Endpoint), zap.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "procd"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	), nil
}

// IsEnabled returns whether tracing is enabled.
// IsEnabled 返回追踪是否已启用。
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Shutdown flushes and stops every provider created by Init
// Shutdown 刷新并关闭 Init 创建的所有提供者
func Shutdown(ctx context.Context) error {
	mu.Lock()
	funcs := shutdownFuncs
	shutdownFuncs = nil
	enabled = false
	mu.Unlock()

	var errs []error
	for _, fn := range funcs {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	mu.Lock()
	tracer := Tracer
	mu.Unlock()
	if tracer == nil {
		// Return noop span if not initialized / 如果未初始化则返回空操作 span
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}
