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

// Package restart decides whether and when a supervised process is restarted.
// restart 包决定被监管进程是否以及何时重启。
//
// This package provides:
// 此包提供：
// - Restart policy evaluation / 重启策略评估
// - Exponential backoff with a reset threshold / 带重置阈值的指数退避
// - Sliding window restart limiting / 滑动窗口重启次数限制
package restart

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/seatunnel/procd/internal/registry"
)

// Default configuration values
// 默认配置值
const (
	DefaultBaseDelay   = 100 * time.Millisecond // 默认初始退避 / Default initial backoff
	DefaultMaxDelay    = 15 * time.Second       // 默认最大退避 / Default backoff cap
	DefaultMultiplier  = 2.0                    // 默认退避倍数 / Default backoff multiplier
	DefaultResetAfter  = 30 * time.Second       // 默认退避重置阈值 / Default backoff reset threshold
	DefaultMaxRestarts = 15                     // 默认窗口内最大重启次数 / Default max restarts per window
	DefaultWindow      = time.Minute            // 默认时间窗口 / Default time window
)

// Config holds the restart configuration
// Config 保存重启配置
type Config struct {
	BaseDelay   time.Duration `json:"base_delay" mapstructure:"base_delay"`     // 初始退避 / Initial backoff
	MaxDelay    time.Duration `json:"max_delay" mapstructure:"max_delay"`       // 最大退避 / Backoff cap
	Multiplier  float64       `json:"multiplier" mapstructure:"multiplier"`     // 退避倍数 / Backoff multiplier
	ResetAfter  time.Duration `json:"reset_after" mapstructure:"reset_after"`   // 运行超过该时长后重置退避 / Run length that resets backoff
	MaxRestarts int           `json:"max_restarts" mapstructure:"max_restarts"` // 窗口内最大重启次数 / Max restarts per window
	Window      time.Duration `json:"window" mapstructure:"window"`             // 滑动时间窗口 / Sliding window
}

// DefaultConfig returns the default restart configuration
// DefaultConfig 返回默认重启配置
func DefaultConfig() Config {
	return Config{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		ResetAfter:  DefaultResetAfter,
		MaxRestarts: DefaultMaxRestarts,
		Window:      DefaultWindow,
	}
}

// Validate checks the configuration
// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.BaseDelay <= 0:
		return errors.New("restart.base_delay must be positive")
	case c.MaxDelay < c.BaseDelay:
		return errors.New("restart.max_delay must not be less than restart.base_delay")
	case c.Multiplier < 1:
		return errors.New("restart.multiplier must be at least 1")
	case c.ResetAfter <= 0:
		return errors.New("restart.reset_after must be positive")
	case c.MaxRestarts < 1:
		return errors.New("restart.max_restarts must be at least 1")
	case c.Window <= 0:
		return errors.New("restart.window must be positive")
	}
	return nil
}

// Backoff returns the delay before restart attempt n (1-based):
// base * multiplier^(n-1), capped at MaxDelay.
// Backoff 返回第 n 次（从 1 开始）重启前的延迟。
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 1 || c.BaseDelay <= 0 {
		return c.BaseDelay
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// Wants reports whether the policy asks for a restart after an exit.
// failed is true for a non-zero exit code, a signal, or a spawn failure.
// Wants 判断策略在进程退出后是否要求重启。
func Wants(policy registry.RestartPolicy, failed bool) bool {
	switch policy {
	case registry.RestartAlways:
		return true
	case registry.RestartOnFailure:
		return failed
	default:
		return false
	}
}

// Verdict is the outcome of evaluating one exit
// Verdict 是评估一次退出的结果
type Verdict int

const (
	// VerdictNone means the policy does not restart this exit
	// VerdictNone 表示策略不会因本次退出而重启
	VerdictNone Verdict = iota
	// VerdictRestart means a restart is scheduled after Decision.Delay
	// VerdictRestart 表示将在 Decision.Delay 后重启
	VerdictRestart
	// VerdictGiveUp means the restart limit is reached
	// VerdictGiveUp 表示已达重启上限
	VerdictGiveUp
)

// String returns the verdict name
func (v Verdict) String() string {
	switch v {
	case VerdictRestart:
		return "restart"
	case VerdictGiveUp:
		return "give_up"
	default:
		return "none"
	}
}

// Decision describes what to do after an exit
// Decision 描述进程退出后的处理方式
type Decision struct {
	Verdict  Verdict       `json:"verdict"`
	Delay    time.Duration `json:"delay"`
	Attempt  int           `json:"attempt"`   // 退避序号 / Backoff attempt
	InWindow int           `json:"in_window"` // 窗口内已执行的重启次数 / Restarts already in window
}

// History tracks restart history for a process
// History 跟踪进程的重启历史
type History struct {
	ProcessName  string      `json:"process_name"`
	Attempt      int         `json:"attempt"`
	LastRestart  time.Time   `json:"last_restart"`
	RestartTimes []time.Time `json:"restart_times"` // 窗口内的重启时间 / Restart times in window
}

// Restarter keeps per-process restart history
// Restarter 保存每个进程的重启历史
type Restarter struct {
	config    Config
	histories map[string]*History
	now       func() time.Time
	mu        sync.Mutex
}

// New creates a Restarter. A zero config field falls back to its default.
// New 创建 Restarter，未设置的配置项使用默认值。
func New(cfg Config) *Restarter {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = def.ResetAfter
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = def.MaxRestarts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Restarter{
		config:    cfg,
		histories: make(map[string]*History),
		now:       time.Now,
	}
}

// Config returns the effective configuration
// Config 返回生效的配置
func (r *Restarter) Config() Config {
	return r.config
}

// Evaluate decides what happens after the named process exited.
// ranFor is how long the last run lasted; a run of at least ResetAfter
// resets backoff to the base delay. The restart is recorded when granted.
// Evaluate 决定指定进程退出后的处理方式，允许重启时记录本次重启。
func (r *Restarter) Evaluate(name string, policy registry.RestartPolicy, failed bool, ranFor time.Duration) Decision {
	if !Wants(policy, failed) {
		return Decision{Verdict: VerdictNone}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	history, exists := r.histories[name]
	if !exists {
		history = &History{ProcessName: name}
		r.histories[name] = history
	}
	history.RestartTimes = r.pruneLocked(history.RestartTimes, now)

	if ranFor >= r.config.ResetAfter {
		history.Attempt = 0
	}

	inWindow := len(history.RestartTimes)
	if inWindow >= r.config.MaxRestarts {
		return Decision{Verdict: VerdictGiveUp, Attempt: history.Attempt, InWindow: inWindow}
	}

	history.Attempt++
	history.LastRestart = now
	history.RestartTimes = append(history.RestartTimes, now)
	return Decision{
		Verdict:  VerdictRestart,
		Delay:    r.config.Backoff(history.Attempt),
		Attempt:  history.Attempt,
		InWindow: inWindow,
	}
}

// pruneLocked drops restart times that left the window
// pruneLocked 删除已离开窗口的重启时间
func (r *Restarter) pruneLocked(times []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-r.config.Window)
	kept := times[:0]
	for _, t := range times {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Reset clears backoff and window for a process, e.g. after a manual restart
// Reset 清除进程的退避和窗口记录，例如手动重启之后
func (r *Restarter) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.histories, name)
}

// History returns a copy of the restart history for a process, or nil
// History 返回进程重启历史的副本，不存在时返回 nil
func (r *Restarter) History(name string) *History {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, exists := r.histories[name]
	if !exists {
		return nil
	}
	historyCopy := *history
	historyCopy.RestartTimes = make([]time.Time, len(history.RestartTimes))
	copy(historyCopy.RestartTimes, history.RestartTimes)
	return &historyCopy
}

// String renders the configuration for logs
func (c Config) String() string {
	return fmt.Sprintf("base=%v max=%v x%.2f reset_after=%v max_restarts=%d window=%v",
		c.BaseDelay, c.MaxDelay, c.Multiplier, c.ResetAfter, c.MaxRestarts, c.Window)
}
