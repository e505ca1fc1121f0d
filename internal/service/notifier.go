package service

import (
	"context"
	"fmt"

	"github.com/relaydispatchpro/relaydispatchpro/pkg/telegram"
)

// DeliveryNotifier 投递通知：告知操作员某条命令已被设备取走。
// 尽力而为的旁路通道，失败不回滚也不影响领取结果。
type DeliveryNotifier interface {
	NotifyDelivered(ctx context.Context, chatID, deviceNumber, payload string, duration int) error
}

// TelegramNotifier 通过 Telegram Bot API 发送投递通知
type TelegramNotifier struct {
	client *telegram.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(client *telegram.Client) *TelegramNotifier {
	return &TelegramNotifier{client: client}
}

// NotifyDelivered 发送"命令已送达设备"的消息
func (n *TelegramNotifier) NotifyDelivered(ctx context.Context, chatID, deviceNumber, payload string, duration int) error {
	var text string
	switch {
	case payload == "off" || duration <= 0:
		text = fmt.Sprintf("✅ 设备 %s 已接收命令 %s", deviceNumber, payload)
	default:
		text = fmt.Sprintf("✅ 设备 %s 已接收命令：开启 %d 秒", deviceNumber, duration)
	}
	return n.client.SendMessage(ctx, chatID, text)
}
