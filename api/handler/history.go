package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/relaydispatchpro/relaydispatchpro/internal/database"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/relaydispatchpro/relaydispatchpro/internal/service"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
)

// HistoryHandler 命令历史处理器
type HistoryHandler struct {
	history *service.HistoryService
}

// NewHistoryHandler 创建命令历史处理器
func NewHistoryHandler(history *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// ownerIDParam 解析并校验路径中的操作员ID
func (h *HistoryHandler) ownerIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "操作员ID无效"})
		return 0, false
	}
	var operator model.Operator
	if err := database.GetDB().First(&operator, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "OPERATOR_NOT_FOUND", Message: "操作员不存在"})
		return 0, false
	}
	return uint(id), true
}

// ListHistory 查询命令历史（时间倒序）
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	ownerID, ok := h.ownerIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	commands, err := h.history.List(ownerID, limit, offset)
	if err != nil {
		logger.Error("Failed to list history", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "LIST_FAILED", Message: "获取命令历史失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取命令历史成功", Data: commands})
}

// ClearHistory 清空命令历史
func (h *HistoryHandler) ClearHistory(c *gin.Context) {
	ownerID, ok := h.ownerIDParam(c)
	if !ok {
		return
	}

	deleted, err := h.history.Clear(ownerID)
	if err != nil {
		logger.Error("Failed to clear history", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "CLEAR_FAILED", Message: "清空命令历史失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "命令历史已清空", Data: gin.H{"deleted": deleted}})
}

// ExportHistory 导出命令历史为CSV附件；配置了MinIO时同时归档
func (h *HistoryHandler) ExportHistory(c *gin.Context) {
	ownerID, ok := h.ownerIDParam(c)
	if !ok {
		return
	}

	data, archiveURI, err := h.history.ExportCSV(c.Request.Context(), ownerID)
	if err != nil {
		logger.Error("Failed to export history", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "EXPORT_FAILED", Message: "导出命令历史失败: " + err.Error()})
		return
	}

	if archiveURI != "" {
		c.Header("X-Archive-URI", archiveURI)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=command_history_%d.csv", ownerID))
	c.Data(http.StatusOK, "text/csv", data)
}
