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

// Package registry provides the validated, read-only set of process specs the supervisor runs.
// registry 包提供 supervisor 运行的、经过验证的只读进程定义集合。
//
// This package provides:
// 此包提供：
// - Ecosystem file parsing (YAML / JSON) / 生态文件解析（YAML / JSON）
// - Spec validation (names, ports, working directories) / 定义校验（名称、端口、工作目录）
// - Registry diffing for reload / 用于重载的注册表差异计算
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// RestartPolicy decides whether an exited process is started again.
// RestartPolicy 决定退出的进程是否被重新启动。
type RestartPolicy string

const (
	// RestartNever never restarts the process
	// RestartNever 从不重启进程
	RestartNever RestartPolicy = "never"

	// RestartOnFailure restarts only after a non-zero exit or a fatal signal
	// RestartOnFailure 仅在非零退出或被信号终止后重启
	RestartOnFailure RestartPolicy = "on-failure"

	// RestartAlways restarts after every exit that was not requested
	// RestartAlways 在每次非主动请求的退出后重启
	RestartAlways RestartPolicy = "always"
)

// ParseRestartPolicy parses a policy name. Empty means RestartAlways.
// ParseRestartPolicy 解析策略名称，空值表示 RestartAlways。
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RestartAlways):
		return RestartAlways, nil
	case string(RestartOnFailure), "on_failure", "onfailure":
		return RestartOnFailure, nil
	case string(RestartNever), "no":
		return RestartNever, nil
	default:
		return "", fmt.Errorf("unknown restart policy %q (must be never, on-failure or always)", s)
	}
}

// ProcessSpec is the immutable description of one supervised process.
// ProcessSpec 是单个受管进程的不可变描述。
type ProcessSpec struct {
	// Name uniquely identifies the process in the registry
	// Name 在注册表中唯一标识该进程
	Name string `json:"name"`

	// Command is the executable followed by its arguments
	// Command 是可执行文件及其参数
	Command []string `json:"command"`

	// WorkingDir is the directory the process is started in
	// WorkingDir 是进程启动时的工作目录
	WorkingDir string `json:"cwd"`

	// Env is added on top of the supervisor's own environment
	// Env 叠加在 supervisor 自身环境变量之上
	Env map[string]string `json:"env,omitempty"`

	// Restart is the restart policy
	// Restart 是重启策略
	Restart RestartPolicy `json:"restart"`

	// Port is the listening port, 0 when the process binds none
	// Port 是监听端口，为 0 表示不监听端口
	Port int `json:"port,omitempty"`

	// Group groups replicas such as backend-1 and backend-2
	// Group 用于对副本分组，例如 backend-1 和 backend-2
	Group string `json:"group,omitempty"`
}

// Clone returns a deep copy of the spec.
// Clone 返回定义的深拷贝。
func (s ProcessSpec) Clone() ProcessSpec {
	c := s
	c.Command = append([]string(nil), s.Command...)
	if s.Env != nil {
		c.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			c.Env[k] = v
		}
	}
	return c
}

// RuntimeEqual reports whether two specs would spawn the same process:
// same command, working directory, environment and port.
// RuntimeEqual 判断两个定义是否会启动相同的进程：命令、工作目录、环境变量和端口均相同。
func (s ProcessSpec) RuntimeEqual(other ProcessSpec) bool {
	if s.WorkingDir != other.WorkingDir || s.Port != other.Port {
		return false
	}
	if len(s.Command) != len(other.Command) {
		return false
	}
	for i := range s.Command {
		if s.Command[i] != other.Command[i] {
			return false
		}
	}
	if len(s.Env) != len(other.Env) {
		return false
	}
	for k, v := range s.Env {
		if ov, ok := other.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Environ merges the spec environment over base (KEY=VALUE entries).
// Keys from the spec win; the result is sorted for stable spawning.
// Environ 将定义中的环境变量合并到 base 之上，定义中的键优先，结果排序。
func (s ProcessSpec) Environ(base []string) []string {
	merged := make(map[string]string, len(base)+len(s.Env))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range s.Env {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
