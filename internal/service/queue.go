package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaydispatchpro/relaydispatchpro/internal/database"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
	"gorm.io/gorm"
)

// CommandQueue 命令队列：按设备维度先进先出，领取与送达标记为单个原子动作。
// 同一设备的重复轮询（例如设备侧超时重发）最多只有一个请求能拿到某条命令，
// 继电器命令重复下发会造成物理上的二次动作，这里的原子性是整个系统的硬约束。
type CommandQueue struct {
	db       *gorm.DB
	registry *DeviceRegistry
	notifier DeliveryNotifier
}

// NewCommandQueue 创建命令队列；notifier 可为 nil（不发送投递通知）
func NewCommandQueue(db *gorm.DB, registry *DeviceRegistry, notifier DeliveryNotifier) *CommandQueue {
	return &CommandQueue{db: db, registry: registry, notifier: notifier}
}

// Enqueue 入队一条待下发命令。
// deviceNumber 为空表示不限定设备，归属操作员的任意设备轮询均可领取。
func (q *CommandQueue) Enqueue(ownerID uint, deviceNumber, payload string, duration int) (*model.Command, error) {
	var operator model.Operator
	if err := q.db.First(&operator, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownOwner
		}
		return nil, fmt.Errorf("failed to look up operator: %w", err)
	}

	cmd := &model.Command{
		OwnerID:      &ownerID,
		DeviceNumber: deviceNumber,
		Payload:      payload,
		Duration:     duration,
		Status:       model.CommandStatusPending,
	}
	if err := q.withBusyRetry(func(db *gorm.DB) error { return db.Create(cmd).Error }); err != nil {
		return nil, fmt.Errorf("failed to enqueue command: %w", err)
	}

	logger.Info("Command enqueued",
		"command_id", cmd.ID,
		"owner_id", ownerID,
		"device_number", deviceNumber,
		"payload", payload,
	)
	return cmd, nil
}

// ClaimNext 领取指定设备的下一条待下发命令。
// 返回 (nil, nil) 表示队列为空，这是轮询的常态，区别于错误。
//
// 算法：先选出最早的 pending 命令，再用 status 守护的条件 UPDATE 标记送达；
// UPDATE 影响行数为 0 说明另一个并发轮询抢先领取了该行，重新选取即可。
// 选取与标记不依赖任何进程内状态，存储层是唯一的互斥仲裁者。
func (q *CommandQueue) ClaimNext(deviceNumber string) (*model.Command, error) {
	ownerID, err := q.registry.ResolveOwner(deviceNumber)
	if err != nil {
		return nil, err
	}

	for {
		var cmd model.Command
		err := q.db.
			Where("owner_id = ? AND (device_number = ? OR device_number = '') AND status = ?",
				ownerID, deviceNumber, model.CommandStatusPending).
			Order("created_at ASC, id ASC").
			First(&cmd).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select pending command: %w", err)
		}

		now := time.Now()
		var res *gorm.DB
		if err := q.withBusyRetry(func(db *gorm.DB) error {
			res = db.Model(&model.Command{}).
				Where("id = ? AND status = ?", cmd.ID, model.CommandStatusPending).
				Updates(map[string]interface{}{
					"status":       model.CommandStatusDelivered,
					"delivered_at": now,
				})
			return res.Error
		}); err != nil {
			return nil, fmt.Errorf("failed to mark command delivered: %w", err)
		}
		if res.RowsAffected == 0 {
			// 守护条件未命中：该命令已被并发轮询领走，换下一条
			continue
		}

		cmd.Status = model.CommandStatusDelivered
		cmd.DeliveredAt = &now

		logger.Info("Command delivered",
			"command_id", cmd.ID,
			"device_number", deviceNumber,
			"payload", cmd.Payload,
		)

		// 状态迁移已落库，通知只是事后告知，结果不影响领取
		q.notifyDelivered(cmd, deviceNumber)
		return &cmd, nil
	}
}

// notifyDelivered 提交后异步通知操作员，失败仅记日志
func (q *CommandQueue) notifyDelivered(cmd model.Command, deviceNumber string) {
	if q.notifier == nil || cmd.OwnerID == nil {
		return
	}

	var operator model.Operator
	if err := q.db.First(&operator, *cmd.OwnerID).Error; err != nil {
		logger.Warn("Skip delivery notification, owner lookup failed",
			"command_id", cmd.ID, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := q.notifier.NotifyDelivered(ctx, operator.ChatID, deviceNumber, cmd.Payload, cmd.Duration); err != nil {
			logger.Warn("Delivery notification failed",
				"command_id", cmd.ID,
				"chat_id", operator.ChatID,
				"error", err,
			)
		}
	}()
}

// withBusyRetry 对SQLite写锁竞争做短暂退避重试
func (q *CommandQueue) withBusyRetry(fn func(*gorm.DB) error) error {
	sleep := 50 * time.Millisecond
	var err error
	for i := 0; i < 6; i++ {
		err = fn(q.db)
		if err == nil || !database.IsBusyError(err) {
			return err
		}
		time.Sleep(sleep)
		if sleep < 500*time.Millisecond {
			sleep *= 2
		}
	}
	return err
}
