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

// Package journal persists process state transitions so that the history of
// crashes, restarts and stops survives daemon restarts.
// journal 包持久化进程状态变化，使崩溃、重启和停止的历史在守护进程重启后仍可查询。
package journal

import (
	"time"

	"github.com/seatunnel/procd/internal/process"
)

// Record is one persisted state transition
// Record 表示一条持久化的状态变化
type Record struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string    `json:"name" gorm:"size:100;index"`       // 进程名称 / Process name
	Group      string    `json:"group" gorm:"size:100"`            // 实例组 / Instance group
	RunID      string    `json:"run_id" gorm:"size:36;index"`      // 运行 ID / Run ID
	FromState  string    `json:"from_state" gorm:"size:30"`        // 原状态 / Previous state
	ToState    string    `json:"to_state" gorm:"size:30;index"`    // 新状态 / New state
	PID        int       `json:"pid"`                              // 进程 PID / Process PID
	ExitCode   int       `json:"exit_code"`                        // 退出码 / Exit code
	Signal     string    `json:"signal" gorm:"size:30"`            // 终止信号 / Terminating signal
	Reason     string    `json:"reason" gorm:"type:text"`          // 原因 / Reason
	OccurredAt time.Time `json:"occurred_at" gorm:"index"`         // 发生时间 / Time of the transition
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"` // 写入时间 / Insert time
}

// TableName specifies the table name for Record.
// TableName 指定 Record 的表名。
func (Record) TableName() string {
	return "process_transitions"
}

// FromTransition converts a handle transition into a record
// FromTransition 将句柄状态变化转换为记录
func FromTransition(t process.Transition) *Record {
	return &Record{
		Name:       t.Name,
		Group:      t.Group,
		RunID:      t.RunID,
		FromState:  string(t.From),
		ToState:    string(t.To),
		PID:        t.PID,
		ExitCode:   t.ExitCode,
		Signal:     t.Signal,
		Reason:     t.Reason,
		OccurredAt: t.At,
	}
}

// Filter represents filter criteria for querying records.
// Filter 表示查询记录的过滤条件。
type Filter struct {
	Name      string     `json:"name" form:"name"`
	ToState   string     `json:"to_state" form:"state"`
	StartTime *time.Time `json:"start_time" form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `json:"end_time" form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	Page      int        `json:"page" form:"page"`
	PageSize  int        `json:"page_size" form:"page_size"`
}
