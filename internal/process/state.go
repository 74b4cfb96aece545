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

// Package process owns the lifecycle of one supervised OS process.
// process 包负责单个被监管操作系统进程的生命周期。
//
// This package provides:
// 此包提供：
// - Spawn in a dedicated process group / 在独立进程组中启动
// - Graceful termination and forced kill / 优雅终止与强制终止
// - Exit status capture from the wait goroutine / 通过等待协程获取退出状态
// - Rotating stdout/stderr log files / 可轮转的标准输出与错误日志文件
package process

import (
	"time"
)

// State represents the lifecycle state of a handle
// State 表示句柄的生命周期状态
type State string

const (
	// StatePending is the initial state before the first start
	// StatePending 是首次启动前的初始状态
	StatePending State = "pending"

	// StateStarting indicates the process is being spawned
	// StateStarting 表示进程正在启动
	StateStarting State = "starting"

	// StateRunning indicates the process is running
	// StateRunning 表示进程正在运行
	StateRunning State = "running"

	// StateStopping indicates a termination signal was sent
	// StateStopping 表示已发送终止信号
	StateStopping State = "stopping"

	// StateStopped indicates the process exited cleanly or was stopped
	// StateStopped 表示进程正常退出或已被停止
	StateStopped State = "stopped"

	// StateCrashed indicates an unexpected non-zero exit, signal, or spawn failure
	// StateCrashed 表示意外的非零退出、信号终止或启动失败
	StateCrashed State = "crashed"

	// StateFailedPermanently indicates the restart limit was reached
	// StateFailedPermanently 表示已达到重启上限
	StateFailedPermanently State = "failed_permanently"
)

// Startable reports whether Start may be called in this state.
// An explicit start revives a permanently failed handle.
// Startable 判断该状态下是否可以调用 Start。
func (s State) Startable() bool {
	switch s {
	case StatePending, StateStopped, StateCrashed, StateFailedPermanently:
		return true
	default:
		return false
	}
}

// Live reports whether an OS process may exist for this state
// Live 判断该状态下是否可能存在操作系统进程
func (s State) Live() bool {
	return s == StateRunning || s == StateStopping
}

// Transition is one state change of a handle
// Transition 表示句柄的一次状态变化
type Transition struct {
	Name     string    `json:"name"`
	Group    string    `json:"group"`
	RunID    string    `json:"run_id,omitempty"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	PID      int       `json:"pid,omitempty"`
	ExitCode int       `json:"exit_code"`
	Signal   string    `json:"signal,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Exit is the outcome of one run, reported by the wait goroutine
// Exit 是一次运行的结果，由等待协程上报
type Exit struct {
	RunID  string
	Code   int
	Signal string
	Err    error
	At     time.Time
}

// Failed reports whether the run ended abnormally
// Failed 判断运行是否异常结束
func (e Exit) Failed() bool {
	return e.Code != 0 || e.Signal != "" || e.Err != nil
}

// Info contains a snapshot of a handle for external use
// Info 包含供外部使用的句柄快照
type Info struct {
	Name         string        `json:"name"`
	Group        string        `json:"group"`
	State        State         `json:"state"`
	PID          int           `json:"pid"`
	Port         int           `json:"port"`
	Restart      string        `json:"restart"`
	RestartCount int           `json:"restart_count"`
	LastExitCode int           `json:"last_exit_code"`
	LastSignal   string        `json:"last_signal,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	RunID        string        `json:"run_id,omitempty"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	Uptime       time.Duration `json:"uptime"`
	Alive        bool          `json:"alive"`
}
