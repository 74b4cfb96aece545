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

package control

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/seatunnel/procd/internal/journal"
	"github.com/seatunnel/procd/internal/logger"
	"github.com/seatunnel/procd/internal/process"
)

// HistoryReader lists journaled transitions
// HistoryReader 查询历史状态变化
type HistoryReader interface {
	List(ctx context.Context, filter *journal.Filter) ([]*journal.Record, int64, error)
}

var _ HistoryReader = (*journal.Repository)(nil)

// APIResponse is the envelope of every API answer
// APIResponse 是所有接口响应的外层结构
type APIResponse struct {
	ErrorMsg string `json:"error_msg"`
	Data     any    `json:"data"`
}

// HistoryData is the payload of the history endpoint
type HistoryData struct {
	Total   int64             `json:"total"`
	Records []*journal.Record `json:"records"`
}

// LogsData is the payload of the logs endpoint
type LogsData struct {
	Name   string `json:"name"`
	Stream string `json:"stream"`
	Lines  string `json:"lines"`
}

// Handler provides HTTP handlers for control operations.
// Handler 提供控制操作的 HTTP 处理器。
type Handler struct {
	dispatcher *Dispatcher
	history    HistoryReader
	logs       *process.LogSink
}

// NewHandler creates a new Handler. history and logs may be nil.
// NewHandler 创建 Handler，history 和 logs 可以为 nil。
func NewHandler(dispatcher *Dispatcher, history HistoryReader, logs *process.LogSink) *Handler {
	return &Handler{dispatcher: dispatcher, history: history, logs: logs}
}

// Healthz reports that the daemon answers
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Data: gin.H{"status": "ok"}})
}

// ListProcesses returns the status of every process
// ListProcesses 返回所有进程的状态
func (h *Handler) ListProcesses(c *gin.Context) {
	resp := h.dispatcher.Dispatch(c.Request.Context(), Request{Command: CommandStatus})
	if resp.ExitCode != ExitOK {
		c.JSON(httpStatus(resp.ExitCode), APIResponse{ErrorMsg: resp.Error})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: resp.Processes})
}

// GetProcess returns the status of one process
// GetProcess 返回单个进程的状态
func (h *Handler) GetProcess(c *gin.Context) {
	resp := h.dispatcher.Dispatch(c.Request.Context(), Request{Command: CommandStatus, Target: c.Param("name")})
	if resp.ExitCode != ExitOK {
		status := httpStatus(resp.ExitCode)
		if resp.ExitCode == ExitValidation {
			status = http.StatusNotFound
		}
		c.JSON(status, APIResponse{ErrorMsg: resp.Error})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: resp.Processes[0]})
}

// RunCommand executes an operator command. The body of the answer is a
// Response whatever the exit code, so that clients can show per-process results.
// RunCommand 执行运维命令，无论退出码如何都返回完整的 Response。
func (h *Handler) RunCommand(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			ErrorMsg: "invalid request: " + err.Error(),
			Data:     Response{ExitCode: ExitValidation, Error: err.Error()},
		})
		return
	}

	resp := h.dispatcher.Dispatch(c.Request.Context(), req)
	if resp.ExitCode == ExitInternal {
		logger.ErrorF(c.Request.Context(), "[Control] %s %s failed: %s", req.Command, req.Target, resp.Error)
	}
	c.JSON(httpStatus(resp.ExitCode), APIResponse{ErrorMsg: resp.Error, Data: resp})
}

// ListHistory returns journaled transitions, newest first
// ListHistory 返回历史状态变化，按时间倒序
func (h *Handler) ListHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, APIResponse{ErrorMsg: "journal is disabled"})
		return
	}

	var filter journal.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{ErrorMsg: "invalid filter: " + err.Error()})
		return
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && filter.PageSize == 0 {
		filter.PageSize = limit
	}

	records, total, err := h.history.List(c.Request.Context(), &filter)
	if err != nil {
		logger.ErrorF(c.Request.Context(), "[Control] list history failed: %v", err)
		c.JSON(http.StatusInternalServerError, APIResponse{ErrorMsg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: HistoryData{Total: total, Records: records}})
}

// GetLogs returns the last lines of a process log stream
// GetLogs 返回进程日志流的最后若干行
func (h *Handler) GetLogs(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusNotFound, APIResponse{ErrorMsg: "process logs are disabled"})
		return
	}

	name := c.Param("name")
	stream := c.DefaultQuery("stream", process.StreamOut)
	lines := 0
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > process.MaxLogTailLines {
			c.JSON(http.StatusBadRequest, APIResponse{ErrorMsg: process.ErrTailLines.Error()})
			return
		}
		lines = n
	}

	text, err := h.logs.Tail(name, stream, lines)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, APIResponse{ErrorMsg: "no log for " + name})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, APIResponse{ErrorMsg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: LogsData{Name: name, Stream: stream, Lines: text}})
}

func httpStatus(exitCode int) int {
	switch exitCode {
	case ExitOK, ExitPartial:
		return http.StatusOK
	case ExitValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
