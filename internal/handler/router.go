package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/pkg/logger"
)

// Routes 路由依赖, WebSocket 为空时不注册订阅端点
type Routes struct {
	Health    *HealthHandler
	Blocks    *BlockHandler
	WebSocket gin.HandlerFunc
	WSPath    string
}

// NewEngine 创建 gin 引擎并注册路由
func NewEngine(routes Routes) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog())

	engine.GET("/healthz", routes.Health.Live)
	engine.GET("/healthz/ready", routes.Health.Ready)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if routes.Blocks != nil {
		engine.GET("/blocks/:id", routes.Blocks.GetBlock)
	}
	if routes.WebSocket != nil {
		path := routes.WSPath
		if path == "" {
			path = "/subscribe"
		}
		engine.GET(path, routes.WebSocket)
	}
	return engine
}

// accessLog 请求日志, 探针与指标端点只记 debug
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		switch c.FullPath() {
		case "/healthz", "/healthz/ready", "/metrics":
			logger.Debug("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}
