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

package staticserve

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfigFromEnv(t *testing.T) {
	dir := t.TempDir()

	cfg, err := ConfigFromEnv(envLookup(map[string]string{
		"PM2_SERVE_PATH":     dir,
		"PM2_SERVE_PORT":     "4000",
		"PM2_SERVE_SPA":      "true",
		"PM2_SERVE_HOMEPAGE": "/index.html",
	}))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Root)
	assert.Equal(t, 4000, cfg.Port)
	assert.True(t, cfg.SPA)
	assert.Equal(t, "/index.html", cfg.Homepage)
	assert.Equal(t, ":4000", cfg.Addr())
}

func TestConfigFromEnvPrecedence(t *testing.T) {
	cfg, err := ConfigFromEnv(envLookup(map[string]string{
		"SERVE_PORT":     "5000",
		"PM2_SERVE_PORT": "4000",
		"PORT":           "3000",
		"SERVE_HOMEPAGE": "app.html",
	}))
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "/app.html", cfg.Homepage)

	cfg, err = ConfigFromEnv(envLookup(map[string]string{"PORT": "3000"}))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.False(t, cfg.SPA)
	assert.True(t, filepath.IsAbs(cfg.Root))
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	_, err := ConfigFromEnv(envLookup(map[string]string{"SERVE_PORT": "http"}))
	assert.Error(t, err)

	_, err = ConfigFromEnv(envLookup(map[string]string{"SERVE_PORT": "70000"}))
	assert.Error(t, err)

	_, err = ConfigFromEnv(envLookup(map[string]string{"SERVE_SPA": "maybe"}))
	assert.Error(t, err)
}

func writeSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>home</h1>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "static"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "app.js"), []byte("console.log(1)"), 0644))
	return root
}

func get(t *testing.T, r http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestRouterServesFiles(t *testing.T) {
	root := writeSite(t)
	r := NewRouter(Config{Root: root, Homepage: DefaultHomepage}, zaptest.NewLogger(t))

	w := get(t, r, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "home")

	w = get(t, r, http.MethodGet, "/static/app.js")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = get(t, r, http.MethodGet, "/dashboard")
	assert.Equal(t, http.StatusNotFound, w.Code, "no fallback without spa")

	w = get(t, r, http.MethodPost, "/static/app.js")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouterSPAFallback(t *testing.T) {
	root := writeSite(t)
	r := NewRouter(Config{Root: root, SPA: true, Homepage: DefaultHomepage}, nil)

	w := get(t, r, http.MethodGet, "/projects/42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "home")

	// missing assets stay missing / 缺失的资源文件仍返回 404
	w = get(t, r, http.MethodGet, "/static/missing.js")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveStaysBelowRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "site")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("x"), 0644))

	_, ok := resolve(root, "/../secret.txt")
	assert.False(t, ok)
	_, ok = resolve(root, "../../secret.txt")
	assert.False(t, ok)
}

func TestServeUntilCancelled(t *testing.T) {
	root := writeSite(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Config{Root: root, Host: "127.0.0.1", Port: port, Homepage: DefaultHomepage}, time.Second, nil)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "<h1>home</h1>"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeRejectsMissingRoot(t *testing.T) {
	err := Serve(context.Background(), Config{Root: filepath.Join(t.TempDir(), "nope"), Port: 1}, time.Second, nil)
	assert.Error(t, err)
}
