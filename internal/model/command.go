package model

import (
	"time"
)

// Command 一条待下发的继电器命令
// DeviceNumber 为空表示不限定设备（该操作员的任意设备轮询均可领取）。
// 删除操作员时 OwnerID 置空，历史记录保留。
type Command struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID      *uint      `json:"owner_id" gorm:"index"`
	DeviceNumber string     `json:"device_number" gorm:"type:varchar(16);index;default:''"`
	Payload      string     `json:"payload" gorm:"type:varchar(64);not null"`
	Duration     int        `json:"duration"`
	Status       string     `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime;index"`
	DeliveredAt  *time.Time `json:"delivered_at"`
}

// TableName 表名
func (Command) TableName() string {
	return "commands"
}

// CommandStatus 命令状态枚举（只允许 pending -> delivered 单向迁移）
const (
	CommandStatusPending   = "pending"
	CommandStatusDelivered = "delivered"
)

// CommandOff 关闭继电器的命令字
const CommandOff = "off"
