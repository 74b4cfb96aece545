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

// Package staticserve is the built-in static file server run by ecosystem
// entries with `script: serve`. It is configured through the environment the
// supervisor hands to the process.
// staticserve 包是 `script: serve` 条目运行的内置静态文件服务器，通过环境变量配置。
package staticserve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Defaults used when the environment leaves a setting unset
// 环境变量未设置时使用的默认值
const (
	DefaultRoot     = "."
	DefaultPort     = 8080
	DefaultHomepage = "/index.html"
)

// Environment keys, checked in order
// 环境变量名，按顺序检查
var (
	PathKeys     = []string{"SERVE_PATH", "PM2_SERVE_PATH"}
	PortKeys     = []string{"SERVE_PORT", "PM2_SERVE_PORT", "PORT"}
	SPAKeys      = []string{"SERVE_SPA", "PM2_SERVE_SPA"}
	HomepageKeys = []string{"SERVE_HOMEPAGE", "PM2_SERVE_HOMEPAGE"}
	HostKeys     = []string{"SERVE_HOST", "PM2_SERVE_HOST"}
)

// Config 静态服务器配置
type Config struct {
	Root     string
	Host     string
	Port     int
	SPA      bool   // 未匹配的页面请求返回首页 / Unmatched page requests get the homepage
	Homepage string // 相对 Root 的首页路径 / Homepage path relative to Root
}

// Addr returns the listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConfigFromEnv reads the server settings through lookup, usually os.LookupEnv
// ConfigFromEnv 通过 lookup（通常为 os.LookupEnv）读取服务器配置
func ConfigFromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{Root: DefaultRoot, Port: DefaultPort, Homepage: DefaultHomepage}

	if v, ok := first(lookup, PathKeys); ok {
		cfg.Root = v
	}
	if v, ok := first(lookup, HostKeys); ok {
		cfg.Host = v
	}
	if v, ok := first(lookup, PortKeys); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return Config{}, fmt.Errorf("invalid serve port %q", v)
		}
		cfg.Port = port
	}
	if v, ok := first(lookup, SPAKeys); ok {
		spa, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid serve spa flag %q: %w", v, err)
		}
		cfg.SPA = spa
	}
	if v, ok := first(lookup, HomepageKeys); ok {
		cfg.Homepage = v
	}
	if !strings.HasPrefix(cfg.Homepage, "/") {
		cfg.Homepage = "/" + cfg.Homepage
	}

	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return Config{}, fmt.Errorf("invalid serve path %q: %w", cfg.Root, err)
	}
	cfg.Root = abs
	return cfg, nil
}

func first(lookup func(string) (string, bool), keys []string) (string, bool) {
	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// NewRouter builds the gin engine serving cfg.Root
// NewRouter 构建提供 cfg.Root 目录的 gin 引擎
func NewRouter(cfg Config, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("procd-serve"), accessLog(logger))
	r.NoRoute(fileHandler(cfg))
	return r
}

// fileHandler serves files below the root; only GET and HEAD are allowed
func fileHandler(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusMethodNotAllowed)
			return
		}

		if file, ok := resolve(cfg.Root, c.Request.URL.Path); ok {
			c.File(file)
			return
		}

		// SPA 模式下无扩展名的路径返回首页 / In SPA mode extensionless paths get the homepage
		if cfg.SPA && path.Ext(c.Request.URL.Path) == "" {
			if file, ok := resolve(cfg.Root, cfg.Homepage); ok {
				c.File(file)
				return
			}
		}
		c.String(http.StatusNotFound, "404 page not found")
	}
}

// resolve maps a URL path to a regular file below root. Directories resolve
// to their index.html.
// resolve 将 URL 路径映射到 root 下的普通文件，目录映射到其 index.html。
func resolve(root, urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	file := filepath.Join(root, filepath.FromSlash(clean))
	if rel, err := filepath.Rel(root, file); err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}

	info, err := os.Stat(file)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		file = filepath.Join(file, "index.html")
		info, err = os.Stat(file)
		if err != nil || info.IsDir() {
			return "", false
		}
	}
	return file, true
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Serve runs the server until ctx is cancelled, then shuts it down
// gracefully within shutdownTimeout.
// Serve 运行服务器直到 ctx 取消，然后在 shutdownTimeout 内优雅关闭。
func Serve(ctx context.Context, cfg Config, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return fmt.Errorf("serve path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("serve path %s is not a directory", cfg.Root)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	srv := &http.Server{Handler: NewRouter(cfg, logger), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("static server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("root", cfg.Root),
		zap.Bool("spa", cfg.SPA))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
