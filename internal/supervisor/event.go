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
	"errors"

	"github.com/seatunnel/procd/internal/process"
)

// Common errors for supervisor operations
// Supervisor 操作的常见错误
var (
	// ErrNotRunning indicates the decision loop has exited
	// ErrNotRunning 表示决策循环已退出
	ErrNotRunning = errors.New("supervisor is not running")

	// ErrAlreadyRunning indicates Run was called twice
	// ErrAlreadyRunning 表示 Run 被重复调用
	ErrAlreadyRunning = errors.New("supervisor is already running")

	// ErrProcessNotFound indicates the name is neither in the registry nor supervised
	// ErrProcessNotFound 表示名称既不在注册表中也未被监管
	ErrProcessNotFound = errors.New("process not found")
)

// EventKind is the type of a SupervisorEvent
// EventKind 是事件类型
type EventKind string

const (
	// EventExit reports the end of a run
	// EventExit 上报一次运行结束
	EventExit EventKind = "exit"

	// EventRestartDue fires when a backoff delay has elapsed
	// EventRestartDue 在退避延迟结束时触发
	EventRestartDue EventKind = "restart_due"

	// EventStopTimeout fires when a stopping process outlived its timeout
	// EventStopTimeout 在停止中的进程超过超时时间时触发
	EventStopTimeout EventKind = "stop_timeout"

	// EventCommand carries a control command executed on the loop
	// EventCommand 携带在循环中执行的控制命令
	EventCommand EventKind = "command"
)

// Event is one message on the supervisor queue. It is consumed exactly once by the loop.
// Event 是 Supervisor 队列上的一条消息，由循环恰好消费一次。
type Event struct {
	Kind       EventKind
	Name       string
	RunID      string
	Exit       process.Exit
	Generation uint64
	Command    string

	apply func()
	done  chan struct{}
}
