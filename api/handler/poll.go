package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaydispatchpro/relaydispatchpro/internal/service"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
)

// PollHandler 设备轮询处理器。
// 设备无法接受入站连接，只能周期性拉取；空队列是常态，
// 响应里用 command=null 与错误严格区分。
type PollHandler struct {
	queue *service.CommandQueue
}

// NewPollHandler 创建设备轮询处理器
func NewPollHandler(queue *service.CommandQueue) *PollHandler {
	return &PollHandler{queue: queue}
}

// pollResponse 轮询响应；Command 为 nil 表示暂无命令
type pollResponse struct {
	Command  *string `json:"command"`
	Duration int     `json:"duration,omitempty"`
}

// GetCommand 领取下一条命令（路径兼容旧版固件的 /get_command?esp=N）
func (h *PollHandler) GetCommand(c *gin.Context) {
	deviceNumber := strings.TrimSpace(c.Query("esp"))
	if deviceNumber == "" {
		deviceNumber = strings.TrimSpace(c.Query("device"))
	}
	if deviceNumber == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "MISSING_DEVICE",
			Message: "缺少 esp 查询参数",
		})
		return
	}

	cmd, err := h.queue.ClaimNext(deviceNumber)
	if err != nil {
		if errors.Is(err, service.ErrUnknownDevice) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "DEVICE_NOT_FOUND",
				Message: "设备未注册",
			})
			return
		}
		logger.Error("Claim failed", "device_number", deviceNumber, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STORAGE_ERROR",
			Message: "领取命令失败: " + err.Error(),
		})
		return
	}

	if cmd == nil {
		c.JSON(http.StatusOK, pollResponse{Command: nil})
		return
	}
	c.JSON(http.StatusOK, pollResponse{Command: &cmd.Payload, Duration: cmd.Duration})
}
