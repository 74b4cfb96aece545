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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/seatunnel/procd/internal/config"
	"github.com/seatunnel/procd/internal/control"
	"github.com/seatunnel/procd/internal/logger"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"github.com/seatunnel/procd/internal/staticserve"
	"github.com/seatunnel/procd/internal/supervisor"
	"github.com/spf13/cobra"
)

var (
	stopTimeout  time.Duration
	historyLimit int
	logLines     int
	logErrStream bool
)

var startAllCmd = &cobra.Command{
	Use:   "start-all",
	Short: "Start every process / 启动所有进程",
	Args:  noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, control.Request{Command: control.CommandStartAll})
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every process in reverse start order / 按启动逆序停止所有进程",
	Args:  noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, control.Request{Command: control.CommandStopAll, Timeout: timeoutFlag()})
	},
}

var startCmd = &cobra.Command{
	Use:   "start NAME|all",
	Short: "Start a process / 启动进程",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, control.Request{Command: control.CommandStart, Target: args[0]})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop NAME|all",
	Short: "Stop a process / 停止进程",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, control.Request{Command: control.CommandStop, Target: args[0], Timeout: timeoutFlag()})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart NAME|all",
	Short: "Restart a process / 重启进程",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, control.Request{Command: control.CommandRestart, Target: args[0], Timeout: timeoutFlag()})
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the ecosystem file and apply changes / 重新读取生态文件并应用变更",
	Args:  noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, control.Request{Command: control.CommandReload})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [NAME]",
	Short: "Show process status / 显示进程状态",
	Args:  maxArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := control.Request{Command: control.CommandStatus}
		if len(args) == 1 {
			req.Target = args[0]
		}
		return runCommand(cmd, req)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [NAME]",
	Short: "Show journaled state transitions / 显示历史状态变化",
	Args:  maxArgs(1),
	RunE:  runHistory,
}

var logsCmd = &cobra.Command{
	Use:   "logs NAME",
	Short: "Show the last lines of a process log / 显示进程日志的最后若干行",
	Args:  exactArgs(1),
	RunE:  runLogs,
}

var validateCmd = &cobra.Command{
	Use:   "validate [ECOSYSTEM]",
	Short: "Validate the config and ecosystem files without starting anything / 校验配置和生态文件",
	Args:  maxArgs(1),
	RunE:  runValidate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve static files, configured by SERVE_* / PM2_SERVE_* variables / 提供静态文件服务",
	Args:  noArgs,
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{stopAllCmd, stopCmd, restartCmd} {
		cmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 0, "stop timeout before SIGKILL (default: supervisor.stop_timeout)")
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records")
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", process.DefaultLogTailLines, "number of lines")
	logsCmd.Flags().BoolVar(&logErrStream, "err", false, "show stderr instead of stdout")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &exitError{code: control.ExitValidation, err: err}
	})
}

func noArgs(cmd *cobra.Command, args []string) error {
	return usageError(cobra.NoArgs(cmd, args))
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(cobra.ExactArgs(n)(cmd, args))
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(cobra.MaximumNArgs(n)(cmd, args))
	}
}

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: control.ExitValidation, err: err}
}

func timeoutFlag() string {
	if stopTimeout <= 0 {
		return ""
	}
	return stopTimeout.String()
}

// newClient builds a control client from flags, falling back to the config file
// newClient 根据命令行标志创建控制客户端，未指定时回退到配置文件
func newClient() *control.Client {
	addr, token := opts.addr, opts.token
	if addr == "" || token == "" {
		if cfg, err := config.Load(opts.configFile); err == nil {
			if addr == "" {
				addr = cfg.Control.Addr
			}
			if token == "" {
				token = cfg.Control.Token
			}
		}
	}
	if addr == "" {
		addr = config.DefaultControlAddr
	}
	return control.NewClient(addr, token)
}

// runCommand sends req to the daemon and exits with the response exit code
// runCommand 向守护进程发送命令，并以响应中的退出码退出
func runCommand(cmd *cobra.Command, req control.Request) error {
	resp, err := newClient().Do(cmd.Context(), req)
	if err != nil {
		return &exitError{code: control.ExitInternal, err: err}
	}
	if err := printResponse(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if resp.ExitCode != control.ExitOK {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", resp.Error)
		return &exitError{code: resp.ExitCode}
	}
	return nil
}

func printResponse(w io.Writer, resp control.Response) error {
	if opts.jsonOutput {
		return printJSON(w, resp)
	}
	if resp.Command == control.CommandStatus {
		printStatus(w, resp.Processes)
		return nil
	}
	printResults(w, resp.Results)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResults(w io.Writer, results []supervisor.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "nothing to do")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tACTION\tSTATE\tPID\tERROR")
	for _, r := range results {
		errText := r.Error
		if r.Escalated {
			errText = strings.TrimSpace("killed after stop timeout " + errText)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Action, r.State, pidText(r.PID), errText)
	}
	_ = tw.Flush()
}

func printStatus(w io.Writer, infos []process.Info) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tGROUP\tSTATE\tPID\tPORT\tRESTARTS\tUPTIME\tLAST EXIT\tLAST ERROR")
	for _, info := range infos {
		port := "-"
		if info.Port != 0 {
			port = fmt.Sprint(info.Port)
		}
		uptime := "-"
		if info.State == process.StateRunning {
			uptime = info.Uptime.Truncate(time.Second).String()
		}
		lastExit := fmt.Sprint(info.LastExitCode)
		if info.LastSignal != "" {
			lastExit = info.LastSignal
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			info.Name, info.Group, info.State, pidText(info.PID), port, info.RestartCount, uptime, lastExit, info.LastError)
	}
	_ = tw.Flush()
}

func pidText(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprint(pid)
}

func runHistory(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	data, err := newClient().History(cmd.Context(), name, historyLimit)
	if err != nil {
		return clientError(err)
	}
	w := cmd.OutOrStdout()
	if opts.jsonOutput {
		return printJSON(w, data)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tNAME\tFROM\tTO\tPID\tEXIT\tREASON")
	for _, rec := range data.Records {
		exit := fmt.Sprint(rec.ExitCode)
		if rec.Signal != "" {
			exit = rec.Signal
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.OccurredAt.Local().Format(time.DateTime), rec.Name, rec.FromState, rec.ToState, pidText(rec.PID), exit, rec.Reason)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d of %d records\n", len(data.Records), data.Total)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	stream := process.StreamOut
	if logErrStream {
		stream = process.StreamErr
	}
	text, err := newClient().Logs(cmd.Context(), args[0], stream, logLines)
	if err != nil {
		return clientError(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

// clientError maps API errors to exit codes: 4xx is a caller mistake
func clientError(err error) error {
	var apiErr *control.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		return &exitError{code: control.ExitValidation, err: err}
	}
	return &exitError{code: control.ExitInternal, err: err}
}

// runValidate checks the config and the ecosystem file offline
// runValidate 离线校验配置和生态文件
func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return &exitError{code: control.ExitValidation, err: err}
	}
	if len(args) == 1 {
		cfg.Supervisor.Ecosystem = args[0]
	}

	reg, err := loadEcosystem(cfg)
	if err != nil {
		code := control.ExitInternal
		if errors.Is(err, registry.ErrInvalidConfig) {
			code = control.ExitValidation
		}
		return &exitError{code: code, err: err}
	}

	w := cmd.OutOrStdout()
	if opts.jsonOutput {
		return printJSON(w, reg.Specs())
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tGROUP\tPORT\tRESTART\tCOMMAND")
	for _, spec := range reg.Specs() {
		port := "-"
		if spec.Port != 0 {
			port = fmt.Sprint(spec.Port)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", spec.Name, spec.Group, port, spec.Restart, strings.Join(spec.Command, " "))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%s: %d processes OK\n", cfg.Supervisor.Ecosystem, reg.Len())
	return nil
}

// runServe runs the built-in static server until SIGINT or SIGTERM
// runServe 运行内置静态服务器直到收到 SIGINT 或 SIGTERM
func runServe(cmd *cobra.Command, args []string) error {
	serveCfg, err := staticserve.ConfigFromEnv(os.LookupEnv)
	if err != nil {
		return &exitError{code: control.ExitValidation, err: err}
	}

	// Output goes to the supervisor's per-process log / 输出写入监管器的进程日志
	log, err := logger.New(config.LogConfig{Level: config.DefaultLogLevel, Format: "json", Output: "stdout"})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return staticserve.Serve(ctx, serveCfg, config.DefaultShutdownTimeout, log)
}
