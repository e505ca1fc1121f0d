package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaydispatchpro/relaydispatchpro/internal/database"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
	"gorm.io/gorm"
)

// OperatorHandler 操作员管理处理器
type OperatorHandler struct{}

// NewOperatorHandler 创建操作员管理处理器
func NewOperatorHandler() *OperatorHandler {
	return &OperatorHandler{}
}

// operatorRequest 创建/更新操作员的请求体
type operatorRequest struct {
	ChatID      string `json:"chat_id"`
	DisplayName string `json:"display_name"`
}

// operatorView 列表视图：操作员及其名下设备编号
type operatorView struct {
	model.Operator
	DeviceNumbers []string `json:"device_numbers"`
}

// CreateOperator 创建操作员
func (h *OperatorHandler) CreateOperator(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "MISSING_CHAT_ID", Message: "chat_id 不能为空"})
		return
	}

	db := database.GetDB()
	var existing model.Operator
	if err := db.Where("chat_id = ?", req.ChatID).First(&existing).Error; err == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "OPERATOR_EXISTS", Message: "该 chat_id 已注册"})
		return
	}

	operator := model.Operator{ChatID: req.ChatID, DisplayName: strings.TrimSpace(req.DisplayName)}
	if err := database.WithRetry(func(d *gorm.DB) error { return d.Create(&operator).Error }, 6, 100*time.Millisecond); err != nil {
		logger.Error("Failed to create operator", "chat_id", req.ChatID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "CREATE_FAILED", Message: "创建操作员失败: " + err.Error()})
		return
	}

	logger.Info("Operator created", "operator_id", operator.ID, "chat_id", operator.ChatID)
	c.JSON(http.StatusCreated, SuccessResponse{Code: "SUCCESS", Message: "操作员创建成功", Data: operator})
}

// ListOperators 列出操作员及其设备编号
func (h *OperatorHandler) ListOperators(c *gin.Context) {
	db := database.GetDB()
	var operators []model.Operator
	if err := db.Order("id ASC").Find(&operators).Error; err != nil {
		logger.Error("Failed to list operators", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "LIST_FAILED", Message: "获取操作员列表失败: " + err.Error()})
		return
	}

	var devices []model.Device
	if err := db.Order("device_number ASC").Find(&devices).Error; err != nil {
		logger.Error("Failed to list devices", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "LIST_FAILED", Message: "获取设备列表失败: " + err.Error()})
		return
	}
	byOwner := make(map[uint][]string)
	for _, d := range devices {
		byOwner[d.OwnerID] = append(byOwner[d.OwnerID], d.DeviceNumber)
	}

	views := make([]operatorView, 0, len(operators))
	for _, op := range operators {
		views = append(views, operatorView{Operator: op, DeviceNumbers: byOwner[op.ID]})
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取操作员列表成功", Data: views})
}

// UpdateOperator 更新操作员信息
func (h *OperatorHandler) UpdateOperator(c *gin.Context) {
	operator, ok := h.findByParam(c)
	if !ok {
		return
	}

	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}

	db := database.GetDB()
	updates := map[string]interface{}{}
	if chatID := strings.TrimSpace(req.ChatID); chatID != "" && chatID != operator.ChatID {
		var conflict model.Operator
		if err := db.Where("chat_id = ? AND id <> ?", chatID, operator.ID).First(&conflict).Error; err == nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: "OPERATOR_EXISTS", Message: "该 chat_id 已被占用"})
			return
		}
		updates["chat_id"] = chatID
	}
	if name := strings.TrimSpace(req.DisplayName); name != "" {
		updates["display_name"] = name
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "无需更新", Data: operator})
		return
	}

	if err := db.Model(&operator).Updates(updates).Error; err != nil {
		logger.Error("Failed to update operator", "operator_id", operator.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "UPDATE_FAILED", Message: "更新操作员失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "操作员更新成功", Data: operator})
}

// DeleteOperator 删除操作员：名下设备级联删除，命令历史与操作员解绑后保留
func (h *OperatorHandler) DeleteOperator(c *gin.Context) {
	operator, ok := h.findByParam(c)
	if !ok {
		return
	}

	err := database.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", operator.ID).Delete(&model.Device{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Command{}).
			Where("owner_id = ?", operator.ID).
			Update("owner_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&operator).Error
	})
	if err != nil {
		logger.Error("Failed to delete operator", "operator_id", operator.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "DELETE_FAILED", Message: "删除操作员失败: " + err.Error()})
		return
	}

	logger.Info("Operator deleted", "operator_id", operator.ID)
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "操作员删除成功", Data: gin.H{"id": operator.ID}})
}

// findByParam 按路径参数查找操作员，未找到时直接写出404
func (h *OperatorHandler) findByParam(c *gin.Context) (model.Operator, bool) {
	var operator model.Operator
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "操作员ID无效"})
		return operator, false
	}
	if err := database.GetDB().First(&operator, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "OPERATOR_NOT_FOUND", Message: "操作员不存在"})
		return operator, false
	}
	return operator, true
}
