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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Script names with special meaning
// 具有特殊含义的脚本名称
const (
	// ServeScript runs the built-in static file server
	// ServeScript 运行内置静态文件服务器
	ServeScript = "serve"

	// InterpreterNone disables interpreter inference
	// InterpreterNone 禁用解释器推断
	InterpreterNone = "none"

	// MaxPort is the highest valid TCP port
	// MaxPort 是最大的合法 TCP 端口
	MaxPort = 65535

	// ReservedName addresses every process in control commands
	// ReservedName 在控制命令中表示所有进程
	ReservedName = "all"
)

// namePattern keeps names usable as log file names
// namePattern 保证名称可用作日志文件名
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DefaultPortEnvKeys are consulted, in order, when an app declares no port.
// DefaultPortEnvKeys 在应用未声明端口时按顺序查找。
var DefaultPortEnvKeys = []string{"PORT", "SERVE_PORT", "PM2_SERVE_PORT"}

// interpreters maps script extensions to the program that runs them
// interpreters 将脚本扩展名映射到运行它们的程序
var interpreters = map[string]string{
	".js":  "node",
	".mjs": "node",
	".cjs": "node",
	".py":  "python3",
	".sh":  "sh",
}

var replicaSuffix = regexp.MustCompile(`-\d+$`)

// RawConfig is the ecosystem file as written by the user.
// RawConfig 是用户编写的生态文件。
type RawConfig struct {
	Apps []RawApp `yaml:"apps" json:"apps"`
}

// RawApp is one unvalidated process entry.
// RawApp 是一个未校验的进程条目。
type RawApp struct {
	Name        string                 `yaml:"name" json:"name"`
	Script      string                 `yaml:"script" json:"script"`
	Args        StringList             `yaml:"args" json:"args,omitempty"`
	Interpreter string                 `yaml:"interpreter" json:"interpreter,omitempty"`
	Cwd         string                 `yaml:"cwd" json:"cwd,omitempty"`
	Env         map[string]interface{} `yaml:"env" json:"env,omitempty"`
	Port        *int                   `yaml:"port" json:"port,omitempty"`
	Restart     string                 `yaml:"restart" json:"restart,omitempty"`
	Autorestart *bool                  `yaml:"autorestart" json:"autorestart,omitempty"`
	Group       string                 `yaml:"group" json:"group,omitempty"`
}

// StringList accepts either a YAML sequence or a whitespace separated string.
// StringList 接受 YAML 序列或以空白分隔的字符串。
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = strings.Fields(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: args must be a string or a list of strings", node.Line)
	}
}

// LoadOptions controls how raw entries become specs.
// LoadOptions 控制原始条目如何转换为定义。
type LoadOptions struct {
	// BaseDir resolves relative working directories (usually the ecosystem file directory)
	// BaseDir 用于解析相对工作目录（通常是生态文件所在目录）
	BaseDir string

	// SelfExecutable is the procd binary used for ServeScript entries
	// SelfExecutable 是 ServeScript 条目使用的 procd 可执行文件
	SelfExecutable string

	// PortEnvKeys overrides DefaultPortEnvKeys
	// PortEnvKeys 覆盖 DefaultPortEnvKeys
	PortEnvKeys []string
}

// LoadFile reads and validates an ecosystem file.
// LoadFile 读取并校验生态文件。
func LoadFile(path string, opts LoadOptions) (*Registry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".cjs", ".mjs":
		cfgErr := &ConfigError{}
		cfgErr.add("", "file", "%s is a script; write the apps list as YAML or JSON", path)
		return nil, cfgErr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ecosystem file: %w", err)
	}

	raw, err := ParseEcosystem(data)
	if err != nil {
		return nil, err
	}

	if opts.BaseDir == "" {
		if abs, absErr := filepath.Abs(filepath.Dir(path)); absErr == nil {
			opts.BaseDir = abs
		} else {
			opts.BaseDir = filepath.Dir(path)
		}
	}
	return Load(raw, opts)
}

// ParseEcosystem decodes YAML or JSON ecosystem data. Unknown fields are rejected.
// ParseEcosystem 解码 YAML 或 JSON 生态数据，未知字段会被拒绝。
func ParseEcosystem(data []byte) (RawConfig, error) {
	var raw RawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		cfgErr := &ConfigError{}
		cfgErr.add("", "file", "%v", err)
		return RawConfig{}, cfgErr
	}
	return raw, nil
}

// Load validates raw entries and builds a Registry. Every problem is collected
// into a single *ConfigError; nothing is spawned or touched on disk.
// Load 校验原始条目并构建注册表。所有问题汇总到一个 *ConfigError 中。
func Load(raw RawConfig, opts LoadOptions) (*Registry, error) {
	cfgErr := &ConfigError{}
	if len(raw.Apps) == 0 {
		cfgErr.add("", "apps", "at least one app is required")
		return nil, cfgErr
	}

	portKeys := opts.PortEnvKeys
	if len(portKeys) == 0 {
		portKeys = DefaultPortEnvKeys
	}

	specs := make([]ProcessSpec, 0, len(raw.Apps))
	names := make(map[string]struct{}, len(raw.Apps))
	ports := make(map[int]string, len(raw.Apps))

	for i, app := range raw.Apps {
		name := strings.TrimSpace(app.Name)
		if name == "" {
			cfgErr.add(fmt.Sprintf("#%d", i), "name", "must not be empty")
			continue
		}
		if !namePattern.MatchString(name) || strings.Trim(name, ".") == "" {
			cfgErr.add(name, "name", "may only contain letters, digits, '.', '_' and '-'")
			continue
		}
		if name == ReservedName {
			cfgErr.add(name, "name", "%q is reserved for addressing every process", ReservedName)
			continue
		}
		if _, dup := names[name]; dup {
			cfgErr.add(name, "name", "duplicate name")
			continue
		}
		names[name] = struct{}{}

		spec, ok := buildSpec(name, app, opts, portKeys, cfgErr)
		if !ok {
			continue
		}
		if spec.Port != 0 {
			if owner, taken := ports[spec.Port]; taken {
				cfgErr.add(name, "port", "port %d already declared by %q", spec.Port, owner)
				continue
			}
			ports[spec.Port] = name
		}
		specs = append(specs, spec)
	}

	if err := cfgErr.orNil(); err != nil {
		return nil, err
	}
	return newRegistry(specs), nil
}

// buildSpec converts one raw entry, recording problems on cfgErr
// buildSpec 转换单个原始条目，并将问题记录到 cfgErr
func buildSpec(name string, app RawApp, opts LoadOptions, portKeys []string, cfgErr *ConfigError) (ProcessSpec, bool) {
	before := len(cfgErr.Issues)

	env := make(map[string]string, len(app.Env))
	for k, v := range app.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			cfgErr.add(name, "env", "invalid variable name %q", k)
			continue
		}
		s, err := envString(v)
		if err != nil {
			cfgErr.add(name, "env."+k, "%v", err)
			continue
		}
		env[k] = s
	}

	command, err := buildCommand(app, opts)
	if err != nil {
		cfgErr.add(name, "script", "%v", err)
	}

	cwd, err := resolveWorkingDir(app.Cwd, opts.BaseDir)
	if err != nil {
		cfgErr.add(name, "cwd", "%v", err)
	}

	port := 0
	if app.Port != nil {
		port = *app.Port
		if port < 0 || port > MaxPort {
			cfgErr.add(name, "port", "%d out of range [1, %d]", port, MaxPort)
		}
	} else {
		for _, key := range portKeys {
			v, ok := env[key]
			if !ok {
				continue
			}
			p, convErr := strconv.Atoi(strings.TrimSpace(v))
			if convErr != nil || p < 1 || p > MaxPort {
				cfgErr.add(name, "env."+key, "%q is not a port in [1, %d]", v, MaxPort)
			} else {
				port = p
			}
			break
		}
	}

	policy, err := ParseRestartPolicy(app.Restart)
	if err != nil {
		cfgErr.add(name, "restart", "%v", err)
	}
	if app.Autorestart != nil && !*app.Autorestart {
		if app.Restart != "" && policy != RestartNever {
			cfgErr.add(name, "autorestart", "conflicts with restart %q", app.Restart)
		}
		policy = RestartNever
	}

	group := strings.TrimSpace(app.Group)
	if group == "" {
		group = replicaSuffix.ReplaceAllString(name, "")
	}

	if len(cfgErr.Issues) > before {
		return ProcessSpec{}, false
	}
	return ProcessSpec{
		Name:       name,
		Command:    command,
		WorkingDir: cwd,
		Env:        env,
		Restart:    policy,
		Port:       port,
		Group:      group,
	}, true
}

// buildCommand resolves script, interpreter and args into an argv
// buildCommand 将脚本、解释器和参数解析为 argv
func buildCommand(app RawApp, opts LoadOptions) ([]string, error) {
	script := strings.TrimSpace(app.Script)
	if script == "" {
		return nil, errors.New("must not be empty")
	}
	if strings.ContainsRune(script, 0) {
		return nil, errors.New("contains a NUL byte")
	}

	if script == ServeScript {
		self := opts.SelfExecutable
		if self == "" {
			self = "procd"
		}
		return append([]string{self, ServeScript}, app.Args...), nil
	}

	interpreter := strings.TrimSpace(app.Interpreter)
	if interpreter == "" {
		interpreter = interpreters[strings.ToLower(filepath.Ext(script))]
	}
	if interpreter == InterpreterNone {
		interpreter = ""
	}

	argv := make([]string, 0, len(app.Args)+2)
	if interpreter != "" {
		argv = append(argv, interpreter)
	}
	argv = append(argv, script)
	return append(argv, app.Args...), nil
}

// resolveWorkingDir checks syntax only; existence is checked at spawn time
// resolveWorkingDir 只检查语法，是否存在在启动时检查
func resolveWorkingDir(cwd, baseDir string) (string, error) {
	if strings.ContainsRune(cwd, 0) {
		return "", errors.New("contains a NUL byte")
	}
	if cwd == "" {
		if baseDir == "" {
			return "", nil
		}
		return filepath.Clean(baseDir), nil
	}
	if filepath.IsAbs(cwd) || baseDir == "" {
		return filepath.Clean(cwd), nil
	}
	return filepath.Join(baseDir, cwd), nil
}

// envString renders a scalar env value the way a shell would see it
// envString 以 shell 可见的形式渲染标量环境变量值
func envString(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
