package model

import (
	"time"
)

// Operator 操作员（拥有设备并下发命令的人）
type Operator struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ChatID      string    `json:"chat_id" gorm:"type:varchar(32);not null;uniqueIndex"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Operator) TableName() string {
	return "operators"
}
