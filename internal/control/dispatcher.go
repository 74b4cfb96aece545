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

// Package control exposes supervisor operations to operators: a dispatcher
// mapping commands to supervisor calls, an HTTP API over it, and a client.
// control 包向运维人员暴露监管操作：命令分发器、HTTP 接口和客户端。
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/seatunnel/procd/internal/otel_trace"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"github.com/seatunnel/procd/internal/supervisor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Command names an operator command
// Command 表示运维命令
type Command string

const (
	CommandStart    Command = "start"
	CommandStartAll Command = "start-all"
	CommandStop     Command = "stop"
	CommandStopAll  Command = "stop-all"
	CommandRestart  Command = "restart"
	CommandStatus   Command = "status"
	CommandReload   Command = "reload"
)

// TargetAll addresses every process
const TargetAll = registry.ReservedName

// Exit codes reported to the CLI
// 返回给命令行的退出码
const (
	ExitOK         = 0
	ExitValidation = 1 // 配置错误、未知命令或目标 / Config error, unknown command or target
	ExitPartial    = 2 // 部分进程操作失败 / Some processes failed
	ExitInternal   = 3
)

var (
	// ErrUnknownCommand is returned for a command the dispatcher does not know
	ErrUnknownCommand = errors.New("unknown command")
	// ErrTargetRequired is returned when a command needs a process name
	ErrTargetRequired = errors.New("target is required")
)

// Supervisor is the set of operations the dispatcher drives
// Supervisor 是分发器驱动的操作集合
type Supervisor interface {
	StartAll(ctx context.Context) ([]supervisor.Result, error)
	Start(ctx context.Context, name string) (supervisor.Result, error)
	Stop(ctx context.Context, name string, timeout time.Duration) (supervisor.Result, error)
	StopAll(ctx context.Context, timeout time.Duration) ([]supervisor.Result, error)
	Restart(ctx context.Context, name string, timeout time.Duration) (supervisor.Result, error)
	Reload(ctx context.Context, next *registry.Registry) ([]supervisor.Result, error)
	Status(ctx context.Context) ([]process.Info, error)
}

// Loader reads the process definitions again for reload
// Loader 为重新加载再次读取进程定义
type Loader func() (*registry.Registry, error)

// Request is one operator command
// Request 表示一条运维命令
type Request struct {
	Command Command `json:"command" binding:"required"`
	Target  string  `json:"target,omitempty"`
	// Timeout overrides the stop timeout, e.g. "5s"
	// Timeout 覆盖停止超时，例如 "5s"
	Timeout string `json:"timeout,omitempty"`
}

// Response is the outcome of a command
// Response 表示命令执行结果
type Response struct {
	RequestID string              `json:"request_id"`
	Command   Command             `json:"command"`
	Target    string              `json:"target,omitempty"`
	Results   []supervisor.Result `json:"results,omitempty"`
	Processes []process.Info      `json:"processes,omitempty"`
	ExitCode  int                 `json:"exit_code"`
	Error     string              `json:"error,omitempty"`
}

// Dispatcher maps commands onto supervisor operations
// Dispatcher 将命令映射到监管操作
type Dispatcher struct {
	sup    Supervisor
	load   Loader
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. load may be nil when reload is not supported.
// NewDispatcher 创建 Dispatcher，不支持重新加载时 load 可以为 nil。
func NewDispatcher(sup Supervisor, load Loader, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sup: sup, load: load, logger: logger}
}

// Dispatch runs one command. The returned Response always carries an exit code.
// Dispatch 执行一条命令，返回结果总是包含退出码。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	req.Target = strings.TrimSpace(req.Target)
	resp := Response{RequestID: uuid.NewString(), Command: req.Command, Target: req.Target}

	ctx, span := otel_trace.Start(ctx, "control.dispatch", trace.WithAttributes(
		attribute.String("procd.command", string(req.Command)),
		attribute.String("procd.target", req.Target),
		attribute.String("procd.request_id", resp.RequestID),
	))
	defer span.End()

	err := d.run(ctx, req, &resp)
	resp.ExitCode = exitCode(err, resp.Results)
	if err != nil {
		resp.Error = err.Error()
	} else if failed := supervisor.CountFailed(resp.Results); failed > 0 {
		resp.Error = fmt.Sprintf("%d of %d processes failed", failed, len(resp.Results))
	}

	span.SetAttributes(attribute.Int("procd.exit_code", resp.ExitCode))
	if resp.ExitCode != ExitOK {
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, resp.Error)
		d.logger.Warn("command finished with errors",
			zap.String("request_id", resp.RequestID),
			zap.String("command", string(req.Command)),
			zap.String("target", req.Target),
			zap.Int("exit_code", resp.ExitCode),
			zap.String("error", resp.Error))
	} else {
		d.logger.Info("command finished",
			zap.String("request_id", resp.RequestID),
			zap.String("command", string(req.Command)),
			zap.String("target", req.Target),
			zap.Int("results", len(resp.Results)))
	}
	return resp
}

func (d *Dispatcher) run(ctx context.Context, req Request, resp *Response) error {
	timeout, err := parseTimeout(req.Timeout)
	if err != nil {
		return err
	}

	switch req.Command {
	case CommandStartAll:
		resp.Results, err = d.sup.StartAll(ctx)
		return err

	case CommandStart:
		if req.Target == "" {
			return fmt.Errorf("%s: %w", req.Command, ErrTargetRequired)
		}
		if req.Target == TargetAll {
			resp.Results, err = d.sup.StartAll(ctx)
			return err
		}
		return d.one(resp, func() (supervisor.Result, error) { return d.sup.Start(ctx, req.Target) })

	case CommandStopAll:
		resp.Results, err = d.sup.StopAll(ctx, timeout)
		return err

	case CommandStop:
		if req.Target == "" {
			return fmt.Errorf("%s: %w", req.Command, ErrTargetRequired)
		}
		if req.Target == TargetAll {
			resp.Results, err = d.sup.StopAll(ctx, timeout)
			return err
		}
		return d.one(resp, func() (supervisor.Result, error) { return d.sup.Stop(ctx, req.Target, timeout) })

	case CommandRestart:
		if req.Target == "" {
			return fmt.Errorf("%s: %w", req.Command, ErrTargetRequired)
		}
		if req.Target == TargetAll {
			return d.restartAll(ctx, timeout, resp)
		}
		return d.one(resp, func() (supervisor.Result, error) { return d.sup.Restart(ctx, req.Target, timeout) })

	case CommandStatus:
		infos, err := d.sup.Status(ctx)
		if err != nil {
			return err
		}
		if req.Target == "" || req.Target == TargetAll {
			resp.Processes = infos
			return nil
		}
		for _, info := range infos {
			if info.Name == req.Target {
				resp.Processes = []process.Info{info}
				return nil
			}
		}
		return fmt.Errorf("%w: %s", supervisor.ErrProcessNotFound, req.Target)

	case CommandReload:
		if d.load == nil {
			return errors.New("reload is not supported")
		}
		next, err := d.load()
		if err != nil {
			return err
		}
		resp.Results, err = d.sup.Reload(ctx, next)
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
}

// one runs a single-process operation and records its result
func (d *Dispatcher) one(resp *Response, fn func() (supervisor.Result, error)) error {
	res, err := fn()
	if err != nil {
		return err
	}
	resp.Results = []supervisor.Result{res}
	return nil
}

// restartAll restarts every process known to the supervisor, in status order
// restartAll 按状态顺序重启所有进程
func (d *Dispatcher) restartAll(ctx context.Context, timeout time.Duration, resp *Response) error {
	infos, err := d.sup.Status(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		res, err := d.sup.Restart(ctx, info.Name, timeout)
		switch {
		case errors.Is(err, supervisor.ErrProcessNotFound):
			// handle left over from a reload, no longer defined
			continue
		case errors.Is(err, supervisor.ErrNotRunning), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			res = supervisor.Result{Name: info.Name, Action: supervisor.ActionFailed, State: info.State, Err: err, Error: err.Error()}
		}
		resp.Results = append(resp.Results, res)
	}
	return nil
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ValidationError{Err: fmt.Errorf("invalid timeout %q: %w", s, err)}
	}
	if d < 0 {
		return 0, &ValidationError{Err: fmt.Errorf("timeout must not be negative: %s", s)}
	}
	return d, nil
}

// ValidationError marks a malformed request
// ValidationError 表示请求格式错误
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// exitCode classifies the outcome of a command
// exitCode 对命令结果进行分类
func exitCode(err error, results []supervisor.Result) int {
	var validation *ValidationError
	switch {
	case err == nil:
		if supervisor.CountFailed(results) > 0 {
			return ExitPartial
		}
		return ExitOK
	case errors.Is(err, registry.ErrInvalidConfig),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrTargetRequired),
		errors.Is(err, supervisor.ErrProcessNotFound),
		errors.As(err, &validation):
		return ExitValidation
	default:
		return ExitInternal
	}
}
