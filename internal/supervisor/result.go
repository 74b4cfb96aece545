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
	"github.com/seatunnel/procd/internal/process"
)

// Action is what an operation did to one process
// Action 表示操作对单个进程做了什么
type Action string

const (
	ActionStarted   Action = "started"
	ActionStopped   Action = "stopped"
	ActionRestarted Action = "restarted"
	ActionRemoved   Action = "removed"
	ActionUnchanged Action = "unchanged"
	ActionFailed    Action = "failed"
)

// Result is the per-process outcome of a control operation
// Result 是控制操作对单个进程的结果
type Result struct {
	Name      string        `json:"name"`
	Action    Action        `json:"action"`
	State     process.State `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Escalated bool          `json:"escalated,omitempty"` // 停止时升级为强制终止 / Stop escalated to a forced kill
	Error     string        `json:"error,omitempty"`

	Err error `json:"-"`
}

func failedResult(name string, state process.State, err error) Result {
	return Result{Name: name, Action: ActionFailed, State: state, Err: err, Error: err.Error()}
}

// CountFailed returns the number of failed results
// CountFailed 返回失败结果的数量
func CountFailed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
