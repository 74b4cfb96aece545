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

// Package notify fans process state transitions out to external subscribers.
// notify 包将进程状态变化分发给外部订阅者。
package notify

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/reporter"
	"go.uber.org/zap"
)

// Message is the payload published for one transition
// Message 是一次状态变化发布的消息
type Message struct {
	Host     string        `json:"host"`
	Name     string        `json:"name"`
	Group    string        `json:"group"`
	RunID    string        `json:"run_id,omitempty"`
	From     process.State `json:"from"`
	To       process.State `json:"to"`
	PID      int           `json:"pid,omitempty"`
	ExitCode int           `json:"exit_code"`
	Signal   string        `json:"signal,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	At       time.Time     `json:"at"`
}

// Payload encodes the message as JSON
func (m Message) Payload() ([]byte, error) {
	return json.Marshal(m)
}

// Sink delivers a batch of messages
// Sink 投递一批消息
type Sink interface {
	Deliver(ctx context.Context, msgs []Message) error
}

// MemorySink keeps delivered messages in memory
// MemorySink 在内存中保存已投递的消息
type MemorySink struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMemorySink creates an empty MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Deliver implements Sink
func (m *MemorySink) Deliver(_ context.Context, msgs []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
	return nil
}

// Messages returns a copy of every delivered message
// Messages 返回所有已投递消息的副本
func (m *MemorySink) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Notifier observes supervisor transitions and delivers them to a Sink in
// batches, off the supervisor loop.
// Notifier 观察监管器状态变化，并在循环之外批量投递给 Sink。
type Notifier struct {
	host     string
	sink     Sink
	reporter *reporter.Reporter[Message]
}

// Options configures a Notifier
type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// NewNotifier creates a Notifier delivering to sink
// NewNotifier 创建向 sink 投递的 Notifier
func NewNotifier(sink Sink, opts Options) *Notifier {
	host, _ := os.Hostname()
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 200 * time.Millisecond
	}
	n := &Notifier{host: host, sink: sink}
	n.reporter = reporter.New("notify", sink.Deliver, reporter.Config{
		CacheSize:     opts.QueueSize,
		BatchSize:     opts.BatchSize,
		FlushInterval: opts.FlushInterval,
	}, opts.Logger)
	return n
}

// Observe queues a transition; it never blocks
// Observe 将状态变化加入队列，不会阻塞
func (n *Notifier) Observe(t process.Transition) {
	n.reporter.Report(Message{
		Host:     n.host,
		Name:     t.Name,
		Group:    t.Group,
		RunID:    t.RunID,
		From:     t.From,
		To:       t.To,
		PID:      t.PID,
		ExitCode: t.ExitCode,
		Signal:   t.Signal,
		Reason:   t.Reason,
		At:       t.At,
	})
}

// Start starts the background delivery
func (n *Notifier) Start(ctx context.Context) {
	n.reporter.Start(ctx)
}

// Close delivers pending messages and stops
// Close 投递剩余消息并停止
func (n *Notifier) Close(ctx context.Context) error {
	return n.reporter.Stop(ctx)
}

// Flush delivers pending messages now
func (n *Notifier) Flush(ctx context.Context) error {
	return n.reporter.Flush(ctx)
}
