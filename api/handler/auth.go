package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/relaydispatchpro/relaydispatchpro/internal/config"
	"github.com/relaydispatchpro/relaydispatchpro/internal/service"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler 管理员登录处理器。
// 口令校验通过后签发令牌，令牌放进带过期的会话存储，管理接口按令牌放行。
type AuthHandler struct {
	cfg      *config.Config
	sessions service.SessionStore
}

// NewAuthHandler 创建登录处理器
func NewAuthHandler(cfg *config.Config, sessions service.SessionStore) *AuthHandler {
	return &AuthHandler{cfg: cfg, sessions: sessions}
}

// loginRequest 登录请求
type loginRequest struct {
	Password string `json:"password"`
}

// Login 管理员登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}

	hash := strings.TrimSpace(h.cfg.Admin.PasswordHash)
	if hash == "" {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "AUTH_DISABLED", Message: "未配置管理员口令"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		logger.Warn("Admin login rejected", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, ErrorResponse{Code: "WRONG_PASSWORD", Message: "口令不正确"})
		return
	}

	token := uuid.NewString()
	if err := h.sessions.Set(c.Request.Context(), service.AdminTokenKey(token), "1", h.cfg.Session.AdminTTL); err != nil {
		logger.Error("Failed to store admin token", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "SESSION_ERROR", Message: "登录失败: " + err.Error()})
		return
	}

	logger.Info("Admin logged in", "client_ip", c.ClientIP())
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "登录成功",
		Data: gin.H{
			"token":      token,
			"expires_in": int(h.cfg.Session.AdminTTL.Seconds()),
		},
	})
}

// Logout 注销令牌
func (h *AuthHandler) Logout(c *gin.Context) {
	token := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
	if token != "" {
		_ = h.sessions.Del(c.Request.Context(), service.AdminTokenKey(token))
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "已注销"})
}
