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

package supervisor

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/seatunnel/procd/internal/health"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"github.com/seatunnel/procd/internal/restart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func shApp(name, script string) registry.RawApp {
	return registry.RawApp{Name: name, Script: "sh", Args: registry.StringList{"-c", script}}
}

func intPtr(v int) *int { return &v }

func loadApps(t *testing.T, apps ...registry.RawApp) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(registry.RawConfig{Apps: apps}, registry.LoadOptions{})
	require.NoError(t, err)
	return reg
}

// fastRestart keeps policy restarts quick in tests
var fastRestart = restart.Config{
	BaseDelay:   5 * time.Millisecond,
	MaxDelay:    20 * time.Millisecond,
	Multiplier:  2,
	ResetAfter:  time.Minute,
	MaxRestarts: 3,
	Window:      time.Minute,
}

// recorder collects transitions
type recorder struct {
	mu          sync.Mutex
	transitions []process.Transition
}

func (r *recorder) Observe(t process.Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *recorder) to(state process.State) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, t := range r.transitions {
		if t.To == state {
			names = append(names, t.Name)
		}
	}
	return names
}

func startSupervisor(t *testing.T, reg *registry.Registry, opts Options) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("supervisor tests use sh and POSIX signals")
	}
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	if opts.Restart == (restart.Config{}) {
		opts.Restart = fastRestart
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 2 * time.Second
	}

	s := New(reg, opts)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	t.Cleanup(func() {
		_, _ = s.StopAll(context.Background(), time.Second)
		cancel()
		<-runErr
	})
	return s
}

func statusOf(t *testing.T, s *Supervisor, name string) process.Info {
	t.Helper()
	infos, err := s.Status(context.Background())
	require.NoError(t, err)
	for _, info := range infos {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("no status entry for %s", name)
	return process.Info{}
}

func waitState(t *testing.T, s *Supervisor, name string, state process.State) process.Info {
	t.Helper()
	var info process.Info
	require.Eventually(t, func() bool {
		info = statusOf(t, s, name)
		return info.State == state
	}, 5*time.Second, 10*time.Millisecond, "%s never reached %s", name, state)
	return info
}

// TestStartAllFrontends tests that two valid specs both reach running with no restarts
// TestStartAllFrontends 测试两个合法定义都进入 running 且没有重启
func TestStartAllFrontends(t *testing.T) {
	f1 := shApp("frontend-1", "sleep 30")
	f1.Port = intPtr(4000)
	f2 := shApp("frontend-2", "sleep 30")
	f2.Port = intPtr(4001)
	s := startSupervisor(t, loadApps(t, f1, f2), Options{})

	results, err := s.StartAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, ActionStarted, res.Action)
		assert.Equal(t, process.StateRunning, res.State)
		assert.NotZero(t, res.PID)
		assert.NoError(t, res.Err)
	}

	infos, err := s.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, process.StateRunning, info.State)
		assert.Equal(t, 0, info.RestartCount)
		assert.True(t, info.Alive)
		assert.Equal(t, "frontend", info.Group)
	}
	assert.Equal(t, 4000, infos[0].Port)

	again, err := s.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, again[0].Action)
	assert.Equal(t, results[0].PID, again[0].PID)

	stopped, err := s.StopAll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, stopped, 2)
	assert.Equal(t, "frontend-2", stopped[0].Name)
	assert.Equal(t, ActionStopped, stopped[0].Action)
	assert.Equal(t, process.StatePending, statusOf(t, s, "frontend-1").State, "stop-all removes handles")
}

// TestOnFailureCleanExit tests that an on-failure process exiting 0 stays stopped
// TestOnFailureCleanExit 测试 on-failure 进程以 0 退出后保持 stopped
func TestOnFailureCleanExit(t *testing.T) {
	app := shApp("job", "sleep 0.1; exit 0")
	app.Restart = "on-failure"
	s := startSupervisor(t, loadApps(t, app), Options{})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)

	info := waitState(t, s, "job", process.StateStopped)
	assert.Equal(t, 0, info.LastExitCode)

	time.Sleep(100 * time.Millisecond)
	info = statusOf(t, s, "job")
	assert.Equal(t, process.StateStopped, info.State)
	assert.Equal(t, 0, info.RestartCount, "no restart is scheduled")
}

// TestOnFailureCrashRestarts tests that a failing on-failure process is restarted
func TestOnFailureCrashRestarts(t *testing.T) {
	app := shApp("job", "exit 2")
	app.Restart = "on-failure"
	s := startSupervisor(t, loadApps(t, app), Options{})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)

	info := waitState(t, s, "job", process.StateFailedPermanently)
	assert.Equal(t, fastRestart.MaxRestarts, info.RestartCount)
	assert.Equal(t, 2, info.LastExitCode)
}

// TestAlwaysFailsPermanently tests crash looping until the window limit
// TestAlwaysFailsPermanently 测试崩溃循环直到达到窗口上限
func TestAlwaysFailsPermanently(t *testing.T) {
	app := shApp("flaky", "exit 1")
	app.Port = intPtr(3001)
	rec := &recorder{}
	s := startSupervisor(t, loadApps(t, app), Options{Observers: []Observer{rec}})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)

	info := waitState(t, s, "flaky", process.StateFailedPermanently)
	assert.Equal(t, fastRestart.MaxRestarts, info.RestartCount)
	assert.Contains(t, info.LastError, "restarted 3 times")
	assert.Len(t, rec.to(process.StateCrashed), fastRestart.MaxRestarts+1)

	var owner string
	require.NoError(t, s.do(context.Background(), "test", func() { owner, _ = s.ports.Owner(3001) }))
	assert.Empty(t, owner, "port is released once failed permanently")

	// an explicit restart revives the handle
	res, err := s.Restart(context.Background(), "flaky", 0)
	require.NoError(t, err)
	assert.Equal(t, ActionRestarted, res.Action)
}

// TestAlwaysRestartsCleanExit tests that the always policy restarts after exit 0
func TestAlwaysRestartsCleanExit(t *testing.T) {
	s := startSupervisor(t, loadApps(t, shApp("tick", "sleep 0.05")), Options{
		Restart: restart.Config{BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, MaxRestarts: 100},
	})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return statusOf(t, s, "tick").RestartCount >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

// TestStopEscalation tests SIGKILL after the stop timeout
// TestStopEscalation 测试停止超时后发送 SIGKILL
func TestStopEscalation(t *testing.T) {
	s := startSupervisor(t, loadApps(t, shApp("stubborn", "trap '' TERM; sleep 30")), Options{})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	res, err := s.Stop(context.Background(), "stubborn", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Escalated)
	assert.Equal(t, ActionStopped, res.Action)
	assert.Equal(t, process.StateStopped, res.State)

	again, err := s.Stop(context.Background(), "stubborn", 0)
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, again.Action, "stop is idempotent")
	assert.Equal(t, 0, statusOf(t, s, "stubborn").RestartCount, "a stopped process is not restarted")
}

func TestStopUnknown(t *testing.T) {
	s := startSupervisor(t, loadApps(t, shApp("a", "sleep 30")), Options{})
	_, err := s.Stop(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, ErrProcessNotFound)
	_, err = s.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProcessNotFound)
	_, err = s.Restart(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

// TestStopCancelsPendingRestart tests that stop wins over a scheduled restart
func TestStopCancelsPendingRestart(t *testing.T) {
	s := startSupervisor(t, loadApps(t, shApp("crasher", "exit 1")), Options{
		Restart: restart.Config{BaseDelay: time.Hour, MaxDelay: time.Hour},
	})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)
	waitState(t, s, "crasher", process.StateCrashed)

	res, err := s.Stop(context.Background(), "crasher", 0)
	require.NoError(t, err)
	assert.Equal(t, ActionStopped, res.Action)
	assert.Equal(t, process.StateStopped, statusOf(t, s, "crasher").State)
}

// TestSpawnErrorExplicitStart tests that explicit spawn failures are reported, not retried
// TestSpawnErrorExplicitStart 测试显式启动失败只上报不重试
func TestSpawnErrorExplicitStart(t *testing.T) {
	good := shApp("good", "sleep 30")
	bad := registry.RawApp{Name: "bad", Script: "procd-test-no-such-binary"}
	s := startSupervisor(t, loadApps(t, bad, good), Options{})

	results, err := s.StartAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	var spawnErr *process.SpawnError
	require.True(t, errors.As(results[0].Err, &spawnErr))
	assert.Equal(t, process.SpawnNotFound, spawnErr.Reason)
	assert.Equal(t, ActionFailed, results[0].Action)
	assert.Equal(t, ActionStarted, results[1].Action)
	assert.Equal(t, 1, CountFailed(results))

	time.Sleep(100 * time.Millisecond)
	info := statusOf(t, s, "bad")
	assert.Equal(t, process.StateCrashed, info.State)
	assert.Equal(t, -1, info.LastExitCode)
	assert.Equal(t, 0, info.RestartCount)
	assert.NotEmpty(t, info.LastError)
}

// TestSpawnErrorDuringPolicyRestart tests that a failed restart spawn counts as a crash
// TestSpawnErrorDuringPolicyRestart 测试策略重启时启动失败按崩溃处理
func TestSpawnErrorDuringPolicyRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.Mkdir(dir, 0755))
	app := shApp("vanishing", "sleep 0.2; exit 1")
	app.Cwd = dir
	s := startSupervisor(t, loadApps(t, app), Options{})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(dir))

	info := waitState(t, s, "vanishing", process.StateFailedPermanently)
	assert.Equal(t, fastRestart.MaxRestarts, info.RestartCount)
}

// TestProbePortsConflict tests partial success when a foreign program holds a port
// TestProbePortsConflict 测试外部程序占用端口时的部分成功
func TestProbePortsConflict(t *testing.T) {
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()
	busy := listener.Addr().(*net.TCPAddr).Port

	blocked := shApp("backend-1", "sleep 30")
	blocked.Port = intPtr(busy)
	free := shApp("backend-2", "sleep 30")
	s := startSupervisor(t, loadApps(t, blocked, free), Options{ProbePorts: true})

	results, err := s.StartAll(context.Background())
	require.NoError(t, err)

	var conflict *health.PortConflictError
	require.True(t, errors.As(results[0].Err, &conflict))
	assert.Equal(t, busy, conflict.Port)
	assert.Equal(t, process.StatePending, results[0].State)
	assert.Equal(t, ActionStarted, results[1].Action)
}

// TestReloadUnchangedIsNoop tests that reloading the same ecosystem touches nothing
// TestReloadUnchangedIsNoop 测试重载相同生态文件不影响任何进程
func TestReloadUnchangedIsNoop(t *testing.T) {
	apps := []registry.RawApp{shApp("a", "sleep 30"), shApp("b", "sleep 30")}
	rec := &recorder{}
	s := startSupervisor(t, loadApps(t, apps...), Options{Observers: []Observer{rec}})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)
	before := statusOf(t, s, "a").PID

	results, err := s.Reload(context.Background(), loadApps(t, apps...))
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, rec.to(process.StateStopping))
	assert.Equal(t, before, statusOf(t, s, "a").PID)
}

// TestReloadDiff tests add, remove, change and in-place policy updates
// TestReloadDiff 测试新增、删除、变更以及原地更新策略
func TestReloadDiff(t *testing.T) {
	s := startSupervisor(t, loadApps(t,
		shApp("keep", "sleep 30"),
		shApp("change", "sleep 30"),
		shApp("drop", "sleep 30"),
		shApp("policy", "sleep 30"),
	), Options{})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)
	keepPID := statusOf(t, s, "keep").PID
	changePID := statusOf(t, s, "change").PID
	policyPID := statusOf(t, s, "policy").PID

	policy := shApp("policy", "sleep 30")
	policy.Restart = "never"
	next := loadApps(t,
		shApp("keep", "sleep 30"),
		shApp("change", "sleep 31"),
		policy,
		shApp("add", "sleep 30"),
	)

	results, err := s.Reload(context.Background(), next)
	require.NoError(t, err)

	byName := make(map[string]Result, len(results))
	for _, res := range results {
		byName[res.Name] = res
	}
	require.Len(t, byName, 3)
	assert.Equal(t, ActionRemoved, byName["drop"].Action)
	assert.Equal(t, ActionRestarted, byName["change"].Action)
	assert.Equal(t, ActionStarted, byName["add"].Action)

	assert.Equal(t, keepPID, statusOf(t, s, "keep").PID)
	assert.NotEqual(t, changePID, statusOf(t, s, "change").PID)
	policyInfo := statusOf(t, s, "policy")
	assert.Equal(t, policyPID, policyInfo.PID)
	assert.Equal(t, "never", policyInfo.Restart)

	infos, err := s.Status(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"keep", "change", "policy", "add"}, names)
}

// TestReloadKeepsStoppedSpecsAtRest tests that a changed spec the operator
// stopped, or one removed by stop-all, is not started by reload
// TestReloadKeepsStoppedSpecsAtRest 测试重新加载不会启动被手动停止的已变更定义
func TestReloadKeepsStoppedSpecsAtRest(t *testing.T) {
	s := startSupervisor(t, loadApps(t,
		shApp("idle", "sleep 30"),
		shApp("busy", "sleep 30"),
	), Options{})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)
	_, err = s.Stop(context.Background(), "idle", 0)
	require.NoError(t, err)

	results, err := s.Reload(context.Background(), loadApps(t,
		shApp("idle", "sleep 31"),
		shApp("busy", "sleep 31"),
	))
	require.NoError(t, err)
	byName := make(map[string]Result, len(results))
	for _, res := range results {
		byName[res.Name] = res
	}
	assert.Equal(t, ActionUnchanged, byName["idle"].Action)
	assert.Equal(t, ActionRestarted, byName["busy"].Action)
	assert.Equal(t, process.StatePending, statusOf(t, s, "idle").State)
	assert.Equal(t, process.StateRunning, statusOf(t, s, "busy").State)

	_, err = s.StopAll(context.Background(), 0)
	require.NoError(t, err)
	results, err = s.Reload(context.Background(), loadApps(t,
		shApp("idle", "sleep 32"),
		shApp("busy", "sleep 32"),
	))
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, ActionUnchanged, res.Action, res.Name)
	}
	for _, name := range []string{"idle", "busy"} {
		assert.Equal(t, process.StatePending, statusOf(t, s, name).State)
	}
}

// TestStopAllReverseOrder tests that stop-all walks handles in reverse start order
// TestStopAllReverseOrder 测试 stop-all 按启动顺序的逆序停止
func TestStopAllReverseOrder(t *testing.T) {
	rec := &recorder{}
	s := startSupervisor(t, loadApps(t,
		shApp("backend-1", "sleep 30"),
		shApp("backend-2", "sleep 30"),
		shApp("frontend-1", "sleep 30"),
	), Options{Observers: []Observer{rec}})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)

	_, err = s.StopAll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"frontend-1", "backend-2", "backend-1"}, rec.to(process.StateStopping))
}

// TestManualRestart tests restart count and fresh pid after a manual restart
// TestManualRestart 测试手动重启后的重启次数和新进程号
func TestManualRestart(t *testing.T) {
	s := startSupervisor(t, loadApps(t, shApp("api", "sleep 30")), Options{})

	_, err := s.StartAll(context.Background())
	require.NoError(t, err)
	before := statusOf(t, s, "api").PID

	res, err := s.Restart(context.Background(), "api", 0)
	require.NoError(t, err)
	assert.Equal(t, ActionRestarted, res.Action)
	assert.Equal(t, process.StateRunning, res.State)

	info := statusOf(t, s, "api")
	assert.Equal(t, 1, info.RestartCount)
	assert.NotEqual(t, before, info.PID)
}

// TestCommandsAfterShutdown tests that commands fail once the loop exited
func TestCommandsAfterShutdown(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("supervisor tests use sh")
	}
	s := New(loadApps(t, shApp("a", "sleep 30")), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()
	cancel()
	require.NoError(t, <-runErr)

	_, err := s.Status(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRunning)
}
