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

package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

// Common errors for process management
// 进程管理的常见错误
var (
	// ErrAlreadyRunning indicates the process is already running
	// ErrAlreadyRunning 表示进程已在运行
	ErrAlreadyRunning = errors.New("process is already running")

	// ErrNotRunning indicates the process is not running
	// ErrNotRunning 表示进程未运行
	ErrNotRunning = errors.New("process is not running")

	// ErrStopTimeout indicates the process ignored the termination signal
	// ErrStopTimeout 表示进程未响应终止信号
	ErrStopTimeout = errors.New("process stop timed out")
)

// SpawnReason classifies a spawn failure
// SpawnReason 对启动失败进行分类
type SpawnReason string

const (
	SpawnNotFound         SpawnReason = "executable_not_found"
	SpawnPermissionDenied SpawnReason = "permission_denied"
	SpawnCwdMissing       SpawnReason = "cwd_missing"
	SpawnOther            SpawnReason = "spawn_failed"
)

// SpawnError reports that the OS process could not be created
// SpawnError 表示无法创建操作系统进程
type SpawnError struct {
	Name   string
	Reason SpawnReason
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %s: %v", e.Name, e.Reason, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// classifySpawnError maps exec/os errors onto a SpawnReason
// classifySpawnError 将 exec/os 错误映射为 SpawnReason
func classifySpawnError(err error) SpawnReason {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return SpawnNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES):
		return SpawnPermissionDenied
	default:
		return SpawnOther
	}
}
