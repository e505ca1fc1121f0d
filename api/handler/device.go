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

// DeviceHandler 设备管理处理器
type DeviceHandler struct{}

// NewDeviceHandler 创建设备管理处理器
func NewDeviceHandler() *DeviceHandler {
	return &DeviceHandler{}
}

// deviceRequest 注册设备的请求体
type deviceRequest struct {
	OwnerID      uint   `json:"owner_id"`
	DeviceNumber string `json:"device_number"`
}

// CreateDevice 注册设备并绑定到操作员
func (h *DeviceHandler) CreateDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}
	req.DeviceNumber = strings.TrimSpace(req.DeviceNumber)
	if req.OwnerID == 0 || req.DeviceNumber == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "MISSING_FIELDS", Message: "owner_id 与 device_number 不能为空"})
		return
	}

	db := database.GetDB()
	var operator model.Operator
	if err := db.First(&operator, req.OwnerID).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "OPERATOR_NOT_FOUND", Message: "操作员不存在"})
		return
	}

	// 设备编号全局唯一
	var existing model.Device
	if err := db.Where("device_number = ?", req.DeviceNumber).First(&existing).Error; err == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "DEVICE_EXISTS", Message: "该设备编号已注册"})
		return
	}

	device := model.Device{OwnerID: req.OwnerID, DeviceNumber: req.DeviceNumber}
	if err := database.WithRetry(func(d *gorm.DB) error { return d.Create(&device).Error }, 6, 100*time.Millisecond); err != nil {
		logger.Error("Failed to create device", "device_number", req.DeviceNumber, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "CREATE_FAILED", Message: "注册设备失败: " + err.Error()})
		return
	}

	logger.Info("Device created", "device_id", device.ID, "device_number", device.DeviceNumber, "owner_id", device.OwnerID)
	c.JSON(http.StatusCreated, SuccessResponse{Code: "SUCCESS", Message: "设备注册成功", Data: device})
}

// ListDevices 列出设备，支持按操作员筛选
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	db := database.GetDB()
	query := db.Model(&model.Device{})
	if ownerParam := c.Query("owner_id"); ownerParam != "" {
		ownerID, err := strconv.ParseUint(ownerParam, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "owner_id 无效"})
			return
		}
		query = query.Where("owner_id = ?", uint(ownerID))
	}

	var devices []model.Device
	if err := query.Order("device_number ASC").Find(&devices).Error; err != nil {
		logger.Error("Failed to list devices", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "LIST_FAILED", Message: "获取设备列表失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取设备列表成功", Data: devices})
}

// DeleteDevice 删除设备；历史命令保留
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "设备ID无效"})
		return
	}

	db := database.GetDB()
	var device model.Device
	if err := db.First(&device, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "DEVICE_NOT_FOUND", Message: "设备不存在"})
		return
	}

	if err := db.Delete(&device).Error; err != nil {
		logger.Error("Failed to delete device", "device_id", device.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "DELETE_FAILED", Message: "删除设备失败: " + err.Error()})
		return
	}

	logger.Info("Device deleted", "device_id", device.ID, "device_number", device.DeviceNumber)
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "设备删除成功", Data: gin.H{"id": device.ID}})
}
