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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/seatunnel/procd/internal/config"
	"github.com/seatunnel/procd/internal/control"
	"github.com/seatunnel/procd/internal/db"
	"github.com/seatunnel/procd/internal/journal"
	"github.com/seatunnel/procd/internal/logger"
	"github.com/seatunnel/procd/internal/notify"
	"github.com/seatunnel/procd/internal/otel_trace"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"github.com/seatunnel/procd/internal/supervisor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// daemonCmd runs the supervisor in the foreground
// daemonCmd 在前台运行监管器
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the supervisor / 运行监管器",
	Args:  noArgs,
	RunE:  runDaemon,
}

// Daemon integrates the supervisor with its observers and the control API
// Daemon 集成监管器、观察者和控制接口
type Daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	sup        *supervisor.Supervisor
	dispatcher *control.Dispatcher
	server     *control.Server

	gdb       *gorm.DB
	recorder  *journal.Recorder
	pruneDone <-chan struct{}

	redisClient *redis.Client
	notifier    *notify.Notifier

	// loopCancel stops the supervisor loop / loopCancel 停止监管循环
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// observerCtx bounds the observer flush loops / observerCtx 限定观察者刷新循环
	observerCancel context.CancelFunc

	shutdownOnce sync.Once
}

// NewDaemon creates a Daemon; nothing is started until Start
// NewDaemon 创建 Daemon，调用 Start 前不会启动任何组件
func NewDaemon(cfg *config.Config, log *zap.Logger) *Daemon {
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{cfg: cfg, logger: log, loopDone: make(chan struct{})}
}

// LoadRegistry reads the ecosystem file named in the config
// LoadRegistry 读取配置中指定的生态文件
func (d *Daemon) LoadRegistry() (*registry.Registry, error) {
	return loadEcosystem(d.cfg)
}

func loadEcosystem(cfg *config.Config) (*registry.Registry, error) {
	self, err := os.Executable()
	if err != nil {
		self = ""
	}
	return registry.LoadFile(cfg.Supervisor.Ecosystem, registry.LoadOptions{
		SelfExecutable: self,
		PortEnvKeys:    cfg.Supervisor.PortEnvKeys,
	})
}

// Start loads the ecosystem, wires observers, starts every process and the
// control API. A config error stops the daemon before anything is spawned.
// Call Shutdown when Start fails to release what was opened.
// Start 加载生态文件、接入观察者、启动所有进程和控制接口。配置错误时不会启动任何进程。
// Start 失败时调用 Shutdown 释放已打开的资源。
func (d *Daemon) Start(ctx context.Context) error {
	// Step 1: Load the ecosystem / 步骤 1：加载生态文件
	logger.InfoF(ctx, "[Daemon] [1/5] loading ecosystem %s", d.cfg.Supervisor.Ecosystem)
	reg, err := d.LoadRegistry()
	if err != nil {
		return err
	}

	// Step 2: Observers / 步骤 2：观察者
	logger.InfoF(ctx, "[Daemon] [2/5] starting observers")
	observerCtx, observerCancel := context.WithCancel(context.Background())
	d.observerCancel = observerCancel
	observers, err := d.startObservers(ctx, observerCtx)
	if err != nil {
		return err
	}

	// Step 3: Supervisor loop / 步骤 3：监管循环
	logger.InfoF(ctx, "[Daemon] [3/5] starting supervisor loop")
	d.sup = supervisor.New(reg, supervisor.Options{
		Logger:      d.logger.Named("supervisor"),
		Restart:     d.cfg.Restart,
		Logs:        process.NewLogSink(d.cfg.ProcessLogs),
		StopTimeout: d.cfg.Supervisor.StopTimeout,
		ProbePorts:  d.cfg.Supervisor.ProbePorts,
		EventBuffer: d.cfg.Supervisor.EventBuffer,
		Observers:   observers,
	})
	loopCtx, loopCancel := context.WithCancel(context.Background())
	d.loopCancel = loopCancel
	go func() {
		defer close(d.loopDone)
		if err := d.sup.Run(loopCtx); err != nil {
			d.logger.Error("supervisor loop failed", zap.Error(err))
		}
	}()

	// Step 4: Control API / 步骤 4：控制接口
	logger.InfoF(ctx, "[Daemon] [4/5] starting control API on %s", d.cfg.Control.Addr)
	var history control.HistoryReader
	if d.recorder != nil {
		history = d.recorder.Repository()
	}
	d.dispatcher = control.NewDispatcher(d.sup, d.LoadRegistry, d.logger.Named("control"))
	handler := control.NewHandler(d.dispatcher, history, process.NewLogSink(d.cfg.ProcessLogs))
	router := control.NewRouter(handler, control.RouterOptions{
		ServiceName: d.cfg.Telemetry.ServiceName,
		Token:       d.cfg.Control.Token,
		Logger:      d.logger.Named("http"),
	})
	d.server = control.NewServer(d.cfg.Control.Addr, router, d.logger.Named("http"))
	if err := d.server.Start(); err != nil {
		d.server = nil
		return err
	}

	// Step 5: Start every process / 步骤 5：启动所有进程
	logger.InfoF(ctx, "[Daemon] [5/5] starting %d processes", reg.Len())
	resp := d.dispatcher.Dispatch(ctx, control.Request{Command: control.CommandStartAll})
	for _, res := range resp.Results {
		if res.Err != nil {
			logger.WarnF(ctx, "[Daemon] %s failed to start: %v", res.Name, res.Err)
		}
	}
	if resp.ExitCode == control.ExitInternal {
		return fmt.Errorf("start-all failed: %s", resp.Error)
	}

	logger.InfoF(ctx, "[Daemon] started, %d of %d processes failed", supervisor.CountFailed(resp.Results), len(resp.Results))
	return nil
}

// startObservers opens the journal and notifier when enabled
// startObservers 在启用时打开历史记录和通知
func (d *Daemon) startObservers(ctx, observerCtx context.Context) ([]supervisor.Observer, error) {
	var observers []supervisor.Observer
	observers = append(observers, supervisor.ObserverFunc(func(t process.Transition) {
		d.logger.Debug("transition",
			zap.String("name", t.Name),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.Int("pid", t.PID),
			zap.String("reason", t.Reason))
	}))

	if d.cfg.Journal.Enabled {
		gdb, err := db.Open(d.cfg.Journal.Database, d.logger.Named("db"))
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		d.gdb = gdb
		repo := journal.NewRepository(gdb)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		d.recorder = journal.NewRecorder(repo, journal.RecorderConfig{
			QueueSize:     d.cfg.Journal.QueueSize,
			BatchSize:     d.cfg.Journal.BatchSize,
			FlushInterval: d.cfg.Journal.FlushInterval,
		}, d.logger.Named("journal"))
		d.recorder.Start(observerCtx)
		observers = append(observers, d.recorder)
		if d.cfg.Journal.Retention > 0 {
			d.pruneDone = repo.StartRetention(observerCtx, d.cfg.Journal.Retention, d.cfg.Journal.PruneInterval, d.logger.Named("journal"))
		}
	}

	if d.cfg.Notify.Redis.Enabled {
		client, err := notify.NewRedisClient(ctx, d.cfg.Notify.Redis)
		if err != nil {
			// 通知不可用不影响监管 / Notifications are optional to supervision
			logger.WarnF(ctx, "[Daemon] redis notifications disabled: %v", err)
		} else {
			d.redisClient = client
			d.notifier = notify.NewNotifier(notify.NewRedisSink(client, d.cfg.Notify.Redis.Channel, ""), notify.Options{
				QueueSize: d.cfg.Notify.Redis.QueueSize,
				Logger:    d.logger.Named("notify"),
			})
			d.notifier.Start(observerCtx)
			observers = append(observers, d.notifier)
		}
	}
	return observers, nil
}

// Reload re-reads the ecosystem and applies the difference
// Reload 重新读取生态文件并应用差异
func (d *Daemon) Reload(ctx context.Context) control.Response {
	return d.dispatcher.Dispatch(ctx, control.Request{Command: control.CommandReload})
}

// Err reports a failure of the control API server
func (d *Daemon) Err() <-chan error {
	return d.server.Err()
}

// Shutdown stops every process in reverse start order, then the loop, the
// observers and the control API. It is safe to call more than once.
// Shutdown 按启动的逆序停止所有进程，然后停止循环、观察者和控制接口，可重复调用。
func (d *Daemon) Shutdown(ctx context.Context) {
	d.shutdownOnce.Do(func() {
		logger.InfoF(ctx, "[Daemon] shutting down")

		if d.dispatcher != nil {
			resp := d.dispatcher.Dispatch(ctx, control.Request{Command: control.CommandStopAll})
			if resp.ExitCode != control.ExitOK {
				logger.WarnF(ctx, "[Daemon] stop-all finished with errors: %s", resp.Error)
			}
		}
		d.stopLoop()

		if d.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Control.ShutdownTimeout)
			if err := d.server.Shutdown(shutdownCtx); err != nil {
				logger.WarnF(ctx, "[Daemon] control API shutdown: %v", err)
			}
			cancel()
		}

		d.closeObservers(ctx)
		d.closeStores()
		logger.InfoF(ctx, "[Daemon] stopped")
	})
}

func (d *Daemon) stopLoop() {
	if d.loopCancel == nil {
		return
	}
	d.loopCancel()
	<-d.loopDone
}

// closeObservers flushes queued transitions
func (d *Daemon) closeObservers(ctx context.Context) {
	if d.recorder != nil {
		if err := d.recorder.Close(ctx); err != nil {
			logger.WarnF(ctx, "[Daemon] journal flush: %v", err)
		}
	}
	if d.notifier != nil {
		if err := d.notifier.Close(ctx); err != nil {
			logger.WarnF(ctx, "[Daemon] notify flush: %v", err)
		}
	}
	if d.observerCancel != nil {
		d.observerCancel()
	}
	if d.pruneDone != nil {
		<-d.pruneDone
	}
}

func (d *Daemon) closeStores() {
	if d.gdb != nil {
		if err := db.Close(d.gdb); err != nil {
			d.logger.Warn("failed to close journal database", zap.Error(err))
		}
		d.gdb = nil
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.logger.Warn("failed to close redis client", zap.Error(err))
		}
		d.redisClient = nil
	}
}

// runDaemon is the main entry point for the daemon
// runDaemon 是守护进程的主入口
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return &exitError{code: control.ExitValidation, err: err}
	}

	log, err := logger.Init(cfg.Log)
	if err != nil {
		return &exitError{code: control.ExitValidation, err: err}
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	if err := otel_trace.Init(ctx, cfg.Telemetry, log); err != nil {
		logger.WarnF(ctx, "[Daemon] tracing disabled: %v", err)
	}
	defer func() { _ = otel_trace.Shutdown(context.Background()) }()

	logger.InfoF(ctx, "[Daemon] procd %s (%s), %s", Version, GitCommit, cfg)

	daemon := NewDaemon(cfg, log)
	if err := daemon.Start(ctx); err != nil {
		daemon.Shutdown(ctx)
		if errors.Is(err, registry.ErrInvalidConfig) {
			return &exitError{code: control.ExitValidation, err: err}
		}
		return err
	}

	// Setup signal handling / 设置信号处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.InfoF(ctx, "[Daemon] received %v, reloading", sig)
				resp := daemon.Reload(ctx)
				if resp.ExitCode != control.ExitOK {
					logger.WarnF(ctx, "[Daemon] reload finished with exit code %d: %s", resp.ExitCode, resp.Error)
				}
				continue
			}
			logger.InfoF(ctx, "[Daemon] received %v", sig)
			daemon.Shutdown(ctx)
			return nil
		case err, ok := <-daemon.Err():
			daemon.Shutdown(ctx)
			if ok && err != nil {
				return fmt.Errorf("control API failed: %w", err)
			}
			return nil
		}
	}
}

// loadConfig loads the config file and applies flag overrides
// loadConfig 加载配置文件并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.addr != "" {
		cfg.Control.Addr = opts.addr
	}
	if opts.token != "" {
		cfg.Control.Token = opts.token
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
