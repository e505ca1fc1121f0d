package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaydispatchpro/relaydispatchpro/internal/database"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/relaydispatchpro/relaydispatchpro/internal/service"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
	"gorm.io/gorm"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CommandHandler 命令提交处理器
type CommandHandler struct {
	ingress *service.IngressAdapter
}

// NewCommandHandler 创建命令提交处理器
func NewCommandHandler(ingress *service.IngressAdapter) *CommandHandler {
	return &CommandHandler{ingress: ingress}
}

// enqueueRequest 提交请求：owner_id 与 chat_id 二选一，text 形如 "7/30" 或 "7/off"
type enqueueRequest struct {
	OwnerID uint   `json:"owner_id"`
	ChatID  string `json:"chat_id"`
	Text    string `json:"text"`
}

// Enqueue 提交一条命令入队
func (h *CommandHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	ownerID := req.OwnerID
	if ownerID == 0 {
		chatID := strings.TrimSpace(req.ChatID)
		if chatID == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "MISSING_OWNER",
				Message: "owner_id 与 chat_id 至少提供一个",
			})
			return
		}
		var operator model.Operator
		if err := database.GetDB().Where("chat_id = ?", chatID).First(&operator).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{
					Code:    "UNKNOWN_OWNER",
					Message: "操作员不存在",
				})
				return
			}
			logger.Error("Operator lookup failed", "chat_id", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Code:    "STORAGE_ERROR",
				Message: "查询操作员失败: " + err.Error(),
			})
			return
		}
		ownerID = operator.ID
	}

	cmd, err := h.ingress.SubmitText(ownerID, req.Text)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, SuccessResponse{
			Code:    "SUCCESS",
			Message: "命令已入队",
			Data:    cmd,
		})
	case errors.Is(err, service.ErrInvalidCommandFormat):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_COMMAND",
			Message: "命令格式不正确，应为 <设备编号>/<秒数> 或 <设备编号>/off",
		})
	case errors.Is(err, service.ErrUnknownOwner):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "UNKNOWN_OWNER",
			Message: "操作员不存在",
		})
	case errors.Is(err, service.ErrUnknownDevice):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "UNKNOWN_DEVICE",
			Message: "设备不存在或不属于该操作员",
		})
	default:
		logger.Error("Command enqueue failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STORAGE_ERROR",
			Message: "命令保存失败: " + err.Error(),
		})
	}
}
