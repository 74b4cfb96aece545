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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seatunnel/procd/internal/process"
)

// DefaultClientTimeout bounds one API call. Stop and reload may wait for
// several stop timeouts, so it is generous.
const DefaultClientTimeout = 5 * time.Minute

// Client calls the control API of a running daemon
// Client 调用运行中守护进程的控制接口
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for addr ("host:port" or a URL)
// NewClient 为 addr 创建 Client
func NewClient(addr, token string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
}

// Do sends a command. A Response is returned whenever the daemon answered,
// even with a non-zero exit code.
// Do 发送命令，只要守护进程有应答就返回 Response。
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := c.call(ctx, http.MethodPost, "/api/v1/commands", bytes.NewReader(body), &resp); err != nil {
		if resp.ExitCode != ExitOK || resp.RequestID != "" {
			return resp, nil
		}
		return Response{}, err
	}
	return resp, nil
}

// Status returns the status of every process
// Status 返回所有进程的状态
func (c *Client) Status(ctx context.Context) ([]process.Info, error) {
	var infos []process.Info
	err := c.call(ctx, http.MethodGet, "/api/v1/processes", nil, &infos)
	return infos, err
}

// History returns journaled transitions
// History 返回历史状态变化
func (c *Client) History(ctx context.Context, name string, limit int) (HistoryData, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var data HistoryData
	err := c.call(ctx, http.MethodGet, "/api/v1/history?"+q.Encode(), nil, &data)
	return data, err
}

// Logs returns the last lines of a process log stream
// Logs 返回进程日志流的最后若干行
func (c *Client) Logs(ctx context.Context, name, stream string, lines int) (string, error) {
	q := url.Values{}
	q.Set("stream", stream)
	if lines > 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	var data LogsData
	err := c.call(ctx, http.MethodGet, "/api/v1/processes/"+url.PathEscape(name)+"/logs?"+q.Encode(), nil, &data)
	return data.Lines, err
}

// call performs one request and decodes the envelope data into out
func (c *Client) call(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	envelope := APIResponse{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("invalid response from daemon (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || envelope.ErrorMsg != "" {
		msg := envelope.ErrorMsg
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return nil
}

// APIError is a non-success answer from the daemon
// APIError 表示守护进程返回的错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}
