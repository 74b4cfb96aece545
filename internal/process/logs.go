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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log stream names
// 日志流名称
const (
	StreamOut = "out"
	StreamErr = "error"
)

// DefaultLogTailLines is the default number of log lines returned by Tail
// DefaultLogTailLines 是 Tail 默认返回的日志行数
const DefaultLogTailLines = 100

// MaxLogTailLines bounds a single Tail request
// MaxLogTailLines 限制单次 Tail 请求的行数
const MaxLogTailLines = 10000

// ErrTailLines is returned when a tail size is negative or above MaxLogTailLines
var ErrTailLines = fmt.Errorf("lines must be between 0 and %d", MaxLogTailLines)

// LogConfig configures per-process output files
// LogConfig 配置每个进程的输出文件
type LogConfig struct {
	Dir        string `mapstructure:"dir"`         // 日志目录，为空时丢弃输出 / Log directory, empty discards output
	MaxSize    int    `mapstructure:"max_size"`    // 单文件最大 MB / Max MB per file
	MaxBackups int    `mapstructure:"max_backups"` // 保留文件数 / Files kept
	MaxAge     int    `mapstructure:"max_age"`     // 保留天数 / Days kept
	Compress   bool   `mapstructure:"compress"`    // 压缩轮转文件 / Compress rotated files
}

// LogSink opens rotating stdout/stderr writers for supervised processes
// LogSink 为被监管进程打开可轮转的标准输出和错误输出
type LogSink struct {
	cfg LogConfig
}

// NewLogSink creates a LogSink. A nil sink discards output.
// NewLogSink 创建 LogSink，nil 表示丢弃输出。
func NewLogSink(cfg LogConfig) *LogSink {
	if cfg.Dir == "" {
		return nil
	}
	return &LogSink{cfg: cfg}
}

// Path returns the log file for a process stream
// Path 返回进程某个输出流的日志文件路径
func (s *LogSink) Path(name, stream string) string {
	if s == nil {
		return ""
	}
	return filepath.Join(s.cfg.Dir, fmt.Sprintf("%s-%s.log", name, stream))
}

// Open returns writers for stdout and stderr of the named process
// Open 返回指定进程的标准输出和错误输出写入器
func (s *LogSink) Open(name string) (stdout, stderr io.WriteCloser, err error) {
	if s == nil {
		return nil, nil, nil
	}
	if err := os.MkdirAll(s.cfg.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create process log directory: %w", err)
	}
	return s.writer(name, StreamOut), s.writer(name, StreamErr), nil
}

func (s *LogSink) writer(name, stream string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   s.Path(name, stream),
		MaxSize:    s.cfg.MaxSize,
		MaxBackups: s.cfg.MaxBackups,
		MaxAge:     s.cfg.MaxAge,
		Compress:   s.cfg.Compress,
	}
}

// Tail returns the last lines of a process stream
// Tail 返回进程输出流的最后若干行
func (s *LogSink) Tail(name, stream string, lines int) (string, error) {
	if s == nil {
		return "", errors.New("process logs are disabled")
	}
	if stream != StreamOut && stream != StreamErr {
		return "", fmt.Errorf("unknown log stream %q", stream)
	}
	if lines < 0 || lines > MaxLogTailLines {
		return "", ErrTailLines
	}
	if lines == 0 {
		lines = DefaultLogTailLines
	}
	return tailFile(s.Path(name, stream), lines)
}

// tailFile collects the last N lines from a file
// tailFile 从文件收集最后 N 行
func tailFile(path string, lines int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var ring []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == lines {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(ring, "\n"), nil
}
