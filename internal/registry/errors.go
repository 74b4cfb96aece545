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

package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is matched by every ConfigError.
// ErrInvalidConfig 可匹配所有 ConfigError。
var ErrInvalidConfig = errors.New("registry: invalid config")

// Issue is a single validation failure.
// Issue 表示单个校验失败。
type Issue struct {
	App    string `json:"app,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (i Issue) String() string {
	if i.App == "" {
		return fmt.Sprintf("%s: %s", i.Field, i.Reason)
	}
	return fmt.Sprintf("app %q: %s: %s", i.App, i.Field, i.Reason)
}

// ConfigError reports every problem found while loading a registry.
// ConfigError 报告加载注册表时发现的所有问题。
type ConfigError struct {
	Issues []Issue
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Unwrap makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func (e *ConfigError) add(app, field, format string, args ...interface{}) {
	e.Issues = append(e.Issues, Issue{App: app, Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (e *ConfigError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}
