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

// Package main is the entry point of procd, a process supervisor.
// main 包是进程监管器 procd 的入口。
//
// The same binary runs the daemon, talks to it as a CLI and serves static
// files for `script: serve` entries.
// 同一个可执行文件既运行守护进程，也作为命令行客户端，并为 `script: serve` 条目提供静态文件服务。
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/seatunnel/procd/internal/control"
	"github.com/spf13/cobra"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// cliOptions holds the persistent flags
// cliOptions 保存全局标志
type cliOptions struct {
	configFile string
	addr       string
	token      string
	jsonOutput bool
}

var opts cliOptions

// rootCmd is the root command for the procd CLI
// rootCmd 是 procd CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "procd",
	Short: "procd - supervisor for long-running application processes",
	Long: `procd loads an ecosystem file, launches the processes it declares, restarts
them according to policy and exposes a local control API.
procd 加载生态文件，启动其中声明的进程，按策略重启，并提供本地控制接口。

Run "procd daemon" to start the supervisor, then use the other commands
to control it. / 使用 "procd daemon" 启动监管器，然后用其它命令控制它。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "procd\n")
		fmt.Fprintf(out, "  Version:    %s\n", Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	// Add flags to root command
	// 向根命令添加标志
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (default: /etc/procd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "control API address, overrides control.addr")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", "", "control API token, overrides control.token")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print raw JSON responses")

	// Add subcommands
	// 添加子命令
	rootCmd.AddCommand(
		versionCmd,
		daemonCmd,
		validateCmd,
		serveCmd,
		startAllCmd,
		stopAllCmd,
		startCmd,
		stopCmd,
		restartCmd,
		reloadCmd,
		statusCmd,
		historyCmd,
		logsCmd,
	)
}

// exitError carries a process exit code out of a command
// exitError 将进程退出码从命令中带出
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCodeOf maps a command error to the process exit code
// exitCodeOf 将命令错误映射为进程退出码
func exitCodeOf(err error) int {
	if err == nil {
		return control.ExitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return control.ExitInternal
}

func main() {
	err := rootCmd.Execute()
	var exitErr *exitError
	if err != nil && (!errors.As(err, &exitErr) || exitErr.err != nil) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCodeOf(err))
}
