package router

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaydispatchpro/relaydispatchpro/api/handler"
	"github.com/relaydispatchpro/relaydispatchpro/internal/config"
	"github.com/relaydispatchpro/relaydispatchpro/internal/database"
	"github.com/relaydispatchpro/relaydispatchpro/internal/service"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/cache"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, queue *service.CommandQueue, ingress *service.IngressAdapter, history *service.HistoryService, sessions service.SessionStore) *gin.Engine {
	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)

	// 创建路由引擎
	r := gin.New()

	// 添加中间件
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	// 创建处理器
	pollHandler := handler.NewPollHandler(queue)
	commandHandler := handler.NewCommandHandler(ingress)
	operatorHandler := handler.NewOperatorHandler()
	deviceHandler := handler.NewDeviceHandler()
	historyHandler := handler.NewHistoryHandler(history)
	authHandler := handler.NewAuthHandler(cfg, sessions)

	// 根路径
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "Relay Dispatch Pro",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	// 设备侧轮询接口，路径兼容旧版固件
	r.GET("/get_command", pollHandler.GetCommand)

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		// 健康检查
		v1.GET("/health", healthCheck)

		// 轮询接口的规范路径
		v1.GET("/poll", pollHandler.GetCommand)

		// 管理员登录
		v1.POST("/login", authHandler.Login)
		v1.POST("/logout", authHandler.Logout)

		// 管理路由，需要管理员令牌
		admin := v1.Group("")
		admin.Use(AdminAuthMiddleware(cfg, sessions))
		{
			// 命令提交
			admin.POST("/commands", commandHandler.Enqueue)

			// 操作员管理
			operators := admin.Group("/operators")
			{
				operators.POST("", operatorHandler.CreateOperator)
				operators.GET("", operatorHandler.ListOperators)
				operators.PUT("/:id", operatorHandler.UpdateOperator)
				operators.DELETE("/:id", operatorHandler.DeleteOperator)

				// 命令历史
				operators.GET("/:id/commands", historyHandler.ListHistory)
				operators.DELETE("/:id/commands", historyHandler.ClearHistory)
				operators.GET("/:id/commands/export", historyHandler.ExportHistory)
			}

			// 设备管理
			devices := admin.Group("/devices")
			{
				devices.POST("", deviceHandler.CreateDevice)
				devices.GET("", deviceHandler.ListDevices)
				devices.DELETE("/:id", deviceHandler.DeleteDevice)
			}
		}
	}

	// 404处理
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// healthCheck 健康检查
func healthCheck(c *gin.Context) {
	if err := database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if cache.GetRedis() != nil {
		if err := cache.Health(c.Request.Context()); err != nil {
			resp["redis"] = "unhealthy"
		} else {
			resp["redis"] = "healthy"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// AdminAuthMiddleware 管理员令牌校验中间件；未配置口令时放行
func AdminAuthMiddleware(cfg *config.Config, sessions service.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(cfg.Admin.PasswordHash) == "" {
			c.Next()
			return
		}

		token := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{
				Code:    "MISSING_TOKEN",
				Message: "缺少管理员令牌",
			})
			return
		}

		_, ok, err := sessions.Get(c.Request.Context(), service.AdminTokenKey(token))
		if err != nil {
			logger.Error("Admin token lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, handler.ErrorResponse{
				Code:    "SESSION_ERROR",
				Message: "令牌校验失败: " + err.Error(),
			})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{
				Code:    "INVALID_TOKEN",
				Message: "管理员令牌无效或已过期",
			})
			return
		}
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID, X-Admin-Token")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		requestID := c.GetString("request_id")
		method := c.Request.Method
		path := c.Request.URL.Path
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()

		logger.Info("HTTP Request",
			"request_id", requestID,
			"method", method,
			"path", path,
			"status", statusCode,
			"duration", duration,
			"client_ip", clientIP,
		)

		if statusCode >= 500 {
			logger.Error("HTTP Error",
				"request_id", requestID,
				"method", method,
				"path", path,
				"status", statusCode,
				"duration", duration,
				"client_ip", clientIP,
			)
		}
	}
}

// generateRequestID 生成请求ID
func generateRequestID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
