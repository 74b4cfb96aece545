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
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// RouterOptions configures the control API router
// RouterOptions 配置控制接口路由
type RouterOptions struct {
	ServiceName string
	// Token enables bearer authentication on /api when set
	// Token 非空时对 /api 启用 Bearer 认证
	Token  string
	Logger *zap.Logger
}

// NewRouter builds the gin engine serving the control API
// NewRouter 构建提供控制接口的 gin 引擎
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "procd"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName), loggerMiddleware(log))

	r.GET("/healthz", h.Healthz)

	apiGroup := r.Group("/api")
	apiGroup.Use(tokenAuth(opts.Token))
	{
		apiV1Router := apiGroup.Group("/v1")
		{
			processRouter := apiV1Router.Group("/processes")
			{
				processRouter.GET("", h.ListProcesses)
				processRouter.GET("/:name", h.GetProcess)
				processRouter.GET("/:name/logs", h.GetLogs)
			}

			apiV1Router.POST("/commands", h.RunCommand)
			apiV1Router.GET("/history", h.ListHistory)
		}
	}
	return r
}

// loggerMiddleware logs one line per request
// loggerMiddleware 为每个请求记录一行日志
func loggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request failed", fields...)
			return
		}
		log.Debug("request served", fields...)
	}
}

// tokenAuth checks the bearer token; an empty token disables the check
// tokenAuth 校验 Bearer Token，Token 为空时不校验
func tokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIResponse{ErrorMsg: "unauthorized"})
			return
		}
		c.Next()
	}
}
