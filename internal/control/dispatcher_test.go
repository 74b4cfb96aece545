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

package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seatunnel/procd/internal/health"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"github.com/seatunnel/procd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSupervisor records calls and answers from canned data
type fakeSupervisor struct {
	mu       sync.Mutex
	calls    []string
	infos    []process.Info
	failing  map[string]error
	internal error
	reloaded *registry.Registry
	timeouts []time.Duration
}

func newFakeSupervisor(names ...string) *fakeSupervisor {
	f := &fakeSupervisor{failing: map[string]error{}}
	for i, name := range names {
		f.infos = append(f.infos, process.Info{Name: name, Group: name, State: process.StateRunning, PID: 1000 + i})
	}
	return f
}

func (f *fakeSupervisor) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSupervisor) known(name string) bool {
	for _, info := range f.infos {
		if info.Name == name {
			return true
		}
	}
	return false
}

func (f *fakeSupervisor) result(name string, action supervisor.Action) (supervisor.Result, error) {
	if f.internal != nil {
		return supervisor.Result{}, f.internal
	}
	if !f.known(name) {
		return supervisor.Result{}, fmt.Errorf("%w: %s", supervisor.ErrProcessNotFound, name)
	}
	if err, ok := f.failing[name]; ok {
		return supervisor.Result{Name: name, Action: supervisor.ActionFailed, State: process.StateCrashed, Err: err, Error: err.Error()}, nil
	}
	return supervisor.Result{Name: name, Action: action, State: process.StateRunning}, nil
}

func (f *fakeSupervisor) all(action supervisor.Action) ([]supervisor.Result, error) {
	if f.internal != nil {
		return nil, f.internal
	}
	var out []supervisor.Result
	for _, info := range f.infos {
		res, _ := f.result(info.Name, action)
		out = append(out, res)
	}
	return out, nil
}

func (f *fakeSupervisor) StartAll(ctx context.Context) ([]supervisor.Result, error) {
	f.record("start-all")
	return f.all(supervisor.ActionStarted)
}

func (f *fakeSupervisor) Start(ctx context.Context, name string) (supervisor.Result, error) {
	f.record("start " + name)
	return f.result(name, supervisor.ActionStarted)
}

func (f *fakeSupervisor) Stop(ctx context.Context, name string, timeout time.Duration) (supervisor.Result, error) {
	f.record("stop " + name)
	f.timeouts = append(f.timeouts, timeout)
	return f.result(name, supervisor.ActionStopped)
}

func (f *fakeSupervisor) StopAll(ctx context.Context, timeout time.Duration) ([]supervisor.Result, error) {
	f.record("stop-all")
	f.timeouts = append(f.timeouts, timeout)
	return f.all(supervisor.ActionStopped)
}

func (f *fakeSupervisor) Restart(ctx context.Context, name string, timeout time.Duration) (supervisor.Result, error) {
	f.record("restart " + name)
	return f.result(name, supervisor.ActionRestarted)
}

func (f *fakeSupervisor) Reload(ctx context.Context, next *registry.Registry) ([]supervisor.Result, error) {
	f.record("reload")
	f.reloaded = next
	return nil, f.internal
}

func (f *fakeSupervisor) Status(ctx context.Context) ([]process.Info, error) {
	f.record("status")
	if f.internal != nil {
		return nil, f.internal
	}
	return f.infos, nil
}

func newTestDispatcher(t *testing.T, sup Supervisor, load Loader) *Dispatcher {
	return NewDispatcher(sup, load, zaptest.NewLogger(t))
}

func TestDispatchExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		setup    func(f *fakeSupervisor)
		wantExit int
		wantCall string
	}{
		{name: "start-all", req: Request{Command: CommandStartAll}, wantExit: ExitOK, wantCall: "start-all"},
		{name: "start one", req: Request{Command: CommandStart, Target: "api"}, wantExit: ExitOK, wantCall: "start api"},
		{name: "start all target", req: Request{Command: CommandStart, Target: "all"}, wantExit: ExitOK, wantCall: "start-all"},
		{name: "start without target", req: Request{Command: CommandStart}, wantExit: ExitValidation},
		{name: "start unknown", req: Request{Command: CommandStart, Target: "ghost"}, wantExit: ExitValidation, wantCall: "start ghost"},
		{name: "stop one", req: Request{Command: CommandStop, Target: "api"}, wantExit: ExitOK, wantCall: "stop api"},
		{name: "stop all target", req: Request{Command: CommandStop, Target: "all"}, wantExit: ExitOK, wantCall: "stop-all"},
		{name: "stop-all", req: Request{Command: CommandStopAll}, wantExit: ExitOK, wantCall: "stop-all"},
		{name: "restart one", req: Request{Command: CommandRestart, Target: "web"}, wantExit: ExitOK, wantCall: "restart web"},
		{name: "unknown command", req: Request{Command: "explode"}, wantExit: ExitValidation},
		{name: "bad timeout", req: Request{Command: CommandStopAll, Timeout: "soon"}, wantExit: ExitValidation},
		{name: "negative timeout", req: Request{Command: CommandStopAll, Timeout: "-1s"}, wantExit: ExitValidation},
		{
			name: "partial failure",
			req:  Request{Command: CommandStartAll},
			setup: func(f *fakeSupervisor) {
				f.failing["web"] = &health.PortConflictError{Port: 3001, Owner: "api", Claimant: "web"}
			},
			wantExit: ExitPartial,
			wantCall: "start-all",
		},
		{
			name:     "single failure",
			req:      Request{Command: CommandStart, Target: "web"},
			setup:    func(f *fakeSupervisor) { f.failing["web"] = errors.New("spawn failed") },
			wantExit: ExitPartial,
			wantCall: "start web",
		},
		{
			name:     "supervisor gone",
			req:      Request{Command: CommandStartAll},
			setup:    func(f *fakeSupervisor) { f.internal = supervisor.ErrNotRunning },
			wantExit: ExitInternal,
			wantCall: "start-all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSupervisor("api", "web")
			if tt.setup != nil {
				tt.setup(f)
			}
			resp := newTestDispatcher(t, f, nil).Dispatch(context.Background(), tt.req)

			assert.Equal(t, tt.wantExit, resp.ExitCode, resp.Error)
			assert.NotEmpty(t, resp.RequestID)
			assert.Equal(t, tt.req.Command, resp.Command)
			if tt.wantExit != ExitOK {
				assert.NotEmpty(t, resp.Error)
			}
			if tt.wantCall == "" {
				assert.Empty(t, f.calls)
			} else {
				assert.Contains(t, f.calls, tt.wantCall)
			}
		})
	}
}

func TestDispatchTimeoutPassedThrough(t *testing.T) {
	f := newFakeSupervisor("api")
	resp := newTestDispatcher(t, f, nil).Dispatch(context.Background(), Request{Command: CommandStop, Target: "api", Timeout: "3s"})
	require.Equal(t, ExitOK, resp.ExitCode)
	assert.Equal(t, []time.Duration{3 * time.Second}, f.timeouts)
}

func TestDispatchStatus(t *testing.T) {
	f := newFakeSupervisor("api", "web")
	d := newTestDispatcher(t, f, nil)

	resp := d.Dispatch(context.Background(), Request{Command: CommandStatus})
	require.Equal(t, ExitOK, resp.ExitCode)
	assert.Len(t, resp.Processes, 2)
	assert.Empty(t, resp.Results)

	resp = d.Dispatch(context.Background(), Request{Command: CommandStatus, Target: "web"})
	require.Equal(t, ExitOK, resp.ExitCode)
	require.Len(t, resp.Processes, 1)
	assert.Equal(t, "web", resp.Processes[0].Name)

	resp = d.Dispatch(context.Background(), Request{Command: CommandStatus, Target: "ghost"})
	assert.Equal(t, ExitValidation, resp.ExitCode)

	// status never mutates / status 不修改任何状态
	for _, call := range f.calls {
		assert.Equal(t, "status", call)
	}
}

func TestDispatchRestartAll(t *testing.T) {
	f := newFakeSupervisor("api", "web")
	// a handle left by reload shows in status but is no longer defined
	sup := &orphanStatus{
		fakeSupervisor: f,
		status:         append(append([]process.Info{}, f.infos...), process.Info{Name: "orphan", State: process.StateStopped}),
	}

	resp := newTestDispatcher(t, sup, nil).Dispatch(context.Background(), Request{Command: CommandRestart, Target: TargetAll})
	require.Equal(t, ExitOK, resp.ExitCode, resp.Error)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "api", resp.Results[0].Name)
	assert.Equal(t, "web", resp.Results[1].Name)
	assert.Equal(t, supervisor.ActionRestarted, resp.Results[1].Action)
	assert.Contains(t, f.calls, "restart orphan")
}

// orphanStatus reports extra handles in Status only
type orphanStatus struct {
	*fakeSupervisor
	status []process.Info
}

func (o *orphanStatus) Status(ctx context.Context) ([]process.Info, error) {
	return o.status, nil
}

func TestDispatchReload(t *testing.T) {
	next, err := registry.Load(registry.RawConfig{Apps: []registry.RawApp{{Name: "api", Script: "sleep"}}}, registry.LoadOptions{})
	require.NoError(t, err)

	f := newFakeSupervisor("api")
	resp := newTestDispatcher(t, f, func() (*registry.Registry, error) { return next, nil }).
		Dispatch(context.Background(), Request{Command: CommandReload})
	require.Equal(t, ExitOK, resp.ExitCode, resp.Error)
	assert.Same(t, next, f.reloaded)
}

func TestDispatchReloadConfigError(t *testing.T) {
	f := newFakeSupervisor("api")
	load := func() (*registry.Registry, error) {
		return registry.Load(registry.RawConfig{Apps: []registry.RawApp{
			{Name: "a", Script: "sleep", Port: intPtr(3001)},
			{Name: "b", Script: "sleep", Port: intPtr(3001)},
		}}, registry.LoadOptions{})
	}

	resp := newTestDispatcher(t, f, load).Dispatch(context.Background(), Request{Command: CommandReload})
	assert.Equal(t, ExitValidation, resp.ExitCode)
	assert.NotContains(t, f.calls, "reload", "running set untouched")

	resp = newTestDispatcher(t, f, nil).Dispatch(context.Background(), Request{Command: CommandReload})
	assert.Equal(t, ExitInternal, resp.ExitCode)
}

func intPtr(v int) *int { return &v }
