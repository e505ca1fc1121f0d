package service

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"gorm.io/gorm"
)

// commandPattern 提交文本的严格格式：<设备编号>/off 或 <设备编号>/<秒数>
var commandPattern = regexp.MustCompile(`^(\d{1,3})/(off|\d{1,5})$`)

// tokenPattern 已选定设备后的裸命令字：off 或秒数
var tokenPattern = regexp.MustCompile(`^(off|\d{1,5})$`)

// IngressAdapter 提交入口：把原始文本校验成 (操作员, 设备, 命令) 三元组后入队。
// 不合法的输入在这里被拒绝，不会写入存储。
type IngressAdapter struct {
	db    *gorm.DB
	queue *CommandQueue
}

// NewIngressAdapter 创建提交入口
func NewIngressAdapter(db *gorm.DB, queue *CommandQueue) *IngressAdapter {
	return &IngressAdapter{db: db, queue: queue}
}

// SubmitText 处理 "7/30"、"7/off" 形式的完整提交
func (a *IngressAdapter) SubmitText(ownerID uint, text string) (*model.Command, error) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil, ErrInvalidCommandFormat
	}
	return a.SubmitToken(ownerID, m[1], m[2])
}

// SubmitToken 针对指定设备提交单个命令字（off 或秒数）
func (a *IngressAdapter) SubmitToken(ownerID uint, deviceNumber, token string) (*model.Command, error) {
	token = strings.TrimSpace(strings.ToLower(token))
	if !tokenPattern.MatchString(token) {
		return nil, ErrInvalidCommandFormat
	}

	duration := 0
	if token != model.CommandOff {
		n, err := strconv.Atoi(token)
		if err != nil || n <= 0 {
			return nil, ErrInvalidCommandFormat
		}
		duration = n
	}

	// 设备必须存在且归属提交者，防止向他人设备下发命令
	var device model.Device
	if err := a.db.Where("device_number = ?", deviceNumber).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownDevice
		}
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if device.OwnerID != ownerID {
		return nil, ErrUnknownDevice
	}

	return a.queue.Enqueue(ownerID, deviceNumber, token, duration)
}
