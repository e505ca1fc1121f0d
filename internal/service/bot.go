package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaydispatchpro/relaydispatchpro/internal/config"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/telegram"
	"gorm.io/gorm"
)

// selectPattern 设备选择指令：boat7 或 /boat7（沿用硬件侧的历史叫法）
var selectPattern = regexp.MustCompile(`^/?boat(\d{1,3})$`)

// BotService Telegram机器人入口：长轮询 getUpdates，把对话转成命令提交。
// 对话状态（当前选中的设备）放在会话存储里，不在进程内持有。
type BotService struct {
	cfg      *config.Config
	client   *telegram.Client
	db       *gorm.DB
	ingress  *IngressAdapter
	sessions SessionStore

	running  bool
	mutex    sync.RWMutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewBotService 创建机器人服务
func NewBotService(cfg *config.Config, client *telegram.Client, db *gorm.DB, ingress *IngressAdapter, sessions SessionStore) *BotService {
	return &BotService{
		cfg:      cfg,
		client:   client,
		db:       db,
		ingress:  ingress,
		sessions: sessions,
		stopChan: make(chan struct{}),
	}
}

// Start 启动长轮询；未配置 bot_token 时直接跳过
func (s *BotService) Start(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Telegram.BotToken) == "" {
		logger.Info("Telegram bot disabled, no bot_token configured")
		return nil
	}

	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = true
	s.mutex.Unlock()

	s.wg.Add(1)
	go s.pollLoop(ctx)
	logger.Info("Telegram bot started")
	return nil
}

// Stop 停止长轮询
func (s *BotService) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	s.mutex.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	logger.Info("Telegram bot stopped")
}

// pollLoop getUpdates 主循环
func (s *BotService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	var offset int64
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		updates, err := s.client.GetUpdates(ctx, offset, s.cfg.Telegram.PollTimeout)
		if err != nil {
			logger.Warn("getUpdates failed", "error", err)
			// 网络抖动时避免紧密循环
			select {
			case <-time.After(3 * time.Second):
			case <-s.stopChan:
				return
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
				continue
			}
			s.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage 处理一条入站消息
func (s *BotService) handleMessage(ctx context.Context, msg *telegram.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.ToLower(strings.TrimSpace(msg.Text))

	var operator model.Operator
	if err := s.db.Where("chat_id = ?", chatID).First(&operator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.reply(ctx, chatID, "您未注册，请联系管理员。")
			return
		}
		logger.Error("Operator lookup failed", "chat_id", chatID, "error", err)
		s.reply(ctx, chatID, "服务暂时不可用，请稍后重试。")
		return
	}

	// 设备选择：boat<N>
	if m := selectPattern.FindStringSubmatch(text); m != nil {
		s.handleSelect(ctx, operator, chatID, m[1])
		return
	}

	// 完整提交：<设备>/<命令字>
	if commandPattern.MatchString(text) {
		s.handleSubmit(ctx, operator, chatID, func() (*model.Command, error) {
			return s.ingress.SubmitText(operator.ID, text)
		})
		return
	}

	// 裸命令字：依赖会话里已选中的设备
	if tokenPattern.MatchString(text) {
		selected, ok, err := s.sessions.Get(ctx, SelectedDeviceKey(chatID))
		if err != nil {
			logger.Warn("Session read failed", "chat_id", chatID, "error", err)
		}
		if !ok {
			s.replyDeviceList(ctx, operator, chatID)
			return
		}
		s.handleSubmit(ctx, operator, chatID, func() (*model.Command, error) {
			return s.ingress.SubmitToken(operator.ID, selected, text)
		})
		return
	}

	// 其余输入一律回显设备列表
	s.replyDeviceList(ctx, operator, chatID)
}

// handleSelect 选中设备并写入会话
func (s *BotService) handleSelect(ctx context.Context, operator model.Operator, chatID, deviceNumber string) {
	var device model.Device
	err := s.db.Where("owner_id = ? AND device_number = ?", operator.ID, deviceNumber).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.reply(ctx, chatID, "设备编号不正确。")
			return
		}
		logger.Error("Device lookup failed", "chat_id", chatID, "error", err)
		s.reply(ctx, chatID, "服务暂时不可用，请稍后重试。")
		return
	}

	if err := s.sessions.Set(ctx, SelectedDeviceKey(chatID), deviceNumber, s.cfg.Session.TTL); err != nil {
		logger.Warn("Session write failed", "chat_id", chatID, "error", err)
	}
	s.reply(ctx, chatID, fmt.Sprintf("已选择设备 %s，请发送命令：30、60、off 或任意秒数。", deviceNumber))
}

// handleSubmit 执行提交并按错误类型答复
func (s *BotService) handleSubmit(ctx context.Context, operator model.Operator, chatID string, submit func() (*model.Command, error)) {
	cmd, err := submit()
	switch {
	case err == nil:
		if cmd.Payload == model.CommandOff {
			s.reply(ctx, chatID, fmt.Sprintf("✅ 命令已入队：设备 %s 关闭。", cmd.DeviceNumber))
		} else {
			s.reply(ctx, chatID, fmt.Sprintf("✅ 命令已入队：设备 %s 开启 %d 秒。", cmd.DeviceNumber, cmd.Duration))
		}
		// 提交成功后清除选中状态，下一条命令重新选择
		_ = s.sessions.Del(ctx, SelectedDeviceKey(chatID))
	case errors.Is(err, ErrInvalidCommandFormat):
		s.reply(ctx, chatID, "命令格式不正确，请使用 <设备编号>/<秒数> 或 <设备编号>/off。")
	case errors.Is(err, ErrUnknownDevice):
		s.reply(ctx, chatID, "设备编号不正确。")
	default:
		logger.Error("Command submit failed", "chat_id", chatID, "error", err)
		s.reply(ctx, chatID, "命令保存失败，请稍后重试。")
	}
}

// replyDeviceList 回复操作员名下的设备列表
func (s *BotService) replyDeviceList(ctx context.Context, operator model.Operator, chatID string) {
	var devices []model.Device
	if err := s.db.Where("owner_id = ?", operator.ID).Order("device_number ASC").Find(&devices).Error; err != nil {
		logger.Error("Device list failed", "chat_id", chatID, "error", err)
		s.reply(ctx, chatID, "服务暂时不可用，请稍后重试。")
		return
	}
	if len(devices) == 0 {
		s.reply(ctx, chatID, "您名下没有设备，请联系管理员。")
		return
	}

	numbers := make([]string, 0, len(devices))
	for _, d := range devices {
		numbers = append(numbers, "boat"+d.DeviceNumber)
	}
	s.reply(ctx, chatID, "请选择设备："+strings.Join(numbers, "、"))
}

// reply 发送答复，失败仅记日志
func (s *BotService) reply(ctx context.Context, chatID, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.client.SendMessage(sendCtx, chatID, text); err != nil {
		logger.Warn("Bot reply failed", "chat_id", chatID, "error", err)
	}
}
