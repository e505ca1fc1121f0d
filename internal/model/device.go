package model

import (
	"time"
)

// Device 远端继电器设备，以短编号标识，轮询时凭编号取命令
type Device struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID      uint      `json:"owner_id" gorm:"not null;index"`
	DeviceNumber string    `json:"device_number" gorm:"type:varchar(16);not null;uniqueIndex"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Device) TableName() string {
	return "devices"
}
