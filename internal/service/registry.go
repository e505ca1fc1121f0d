package service

import (
	"errors"
	"fmt"

	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"gorm.io/gorm"
)

// DeviceRegistry 设备注册表：按设备编号解析归属的操作员
type DeviceRegistry struct {
	db *gorm.DB
}

// NewDeviceRegistry 创建设备注册表
func NewDeviceRegistry(db *gorm.DB) *DeviceRegistry {
	return &DeviceRegistry{db: db}
}

// ResolveOwner 解析设备编号对应的操作员ID；编号未注册返回 ErrUnknownDevice。
// 纯读操作，无副作用。
func (r *DeviceRegistry) ResolveOwner(deviceNumber string) (uint, error) {
	var device model.Device
	if err := r.db.Where("device_number = ?", deviceNumber).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnknownDevice
		}
		return 0, fmt.Errorf("failed to resolve device owner: %w", err)
	}
	return device.OwnerID, nil
}
