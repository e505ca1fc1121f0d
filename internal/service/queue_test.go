package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/relaydispatchpro/relaydispatchpro/internal/config"
	"github.com/relaydispatchpro/relaydispatchpro/internal/database"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// setupTestDB 在临时目录初始化SQLite，测试结束后自动关闭
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	err := database.InitSQLite(config.SQLiteConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database.GetDB()
}

// seedOperator 造一个操作员
func seedOperator(t *testing.T, db *gorm.DB, chatID string) model.Operator {
	t.Helper()
	operator := model.Operator{ChatID: chatID, DisplayName: "op-" + chatID}
	require.NoError(t, db.Create(&operator).Error)
	return operator
}

// seedDevice 造一个归属指定操作员的设备
func seedDevice(t *testing.T, db *gorm.DB, ownerID uint, number string) model.Device {
	t.Helper()
	device := model.Device{OwnerID: ownerID, DeviceNumber: number}
	require.NoError(t, db.Create(&device).Error)
	return device
}

// TestClaimNextFIFO 同一设备的命令按入队顺序领取
func TestClaimNextFIFO(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)

	for _, payload := range []string{"30", "60", "off"} {
		_, err := queue.Enqueue(operator.ID, "7", payload, 0)
		require.NoError(t, err)
	}

	// 先进先出，且每条都被标记为已送达
	for _, want := range []string{"30", "60", "off"} {
		cmd, err := queue.ClaimNext("7")
		require.NoError(t, err)
		require.NotNil(t, cmd)
		assert.Equal(t, want, cmd.Payload)
		assert.Equal(t, model.CommandStatusDelivered, cmd.Status)
		assert.NotNil(t, cmd.DeliveredAt)
	}

	// 队列取空后返回 (nil, nil)
	cmd, err := queue.ClaimNext("7")
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

// TestClaimNextEmptyQueue 空队列反复轮询既不报错也不产生任何状态变化
func TestClaimNextEmptyQueue(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)

	for i := 0; i < 5; i++ {
		cmd, err := queue.ClaimNext("7")
		require.NoError(t, err)
		assert.Nil(t, cmd)
	}

	var count int64
	require.NoError(t, db.Model(&model.Command{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

// TestClaimNextUnknownDevice 未注册设备轮询返回明确错误
func TestClaimNextUnknownDevice(t *testing.T) {
	db := setupTestDB(t)
	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)

	cmd, err := queue.ClaimNext("99")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Nil(t, cmd)
}

// TestEnqueueUnknownOwner 不存在的操作员不能入队
func TestEnqueueUnknownOwner(t *testing.T) {
	db := setupTestDB(t)
	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)

	cmd, err := queue.Enqueue(12345, "7", "30", 30)
	assert.ErrorIs(t, err, ErrUnknownOwner)
	assert.Nil(t, cmd)
}

// TestConcurrentClaimSingleDelivery 并发轮询下每条命令只被送达一次。
// 20个并发轮询抢5条命令：恰好5个拿到命令且互不重复，其余拿到空。
func TestConcurrentClaimSingleDelivery(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)

	const pending = 5
	for i := 0; i < pending; i++ {
		_, err := queue.Enqueue(operator.ID, "7", fmt.Sprintf("%d", (i+1)*10), (i+1)*10)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[uint]int)

	g := new(errgroup.Group)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			cmd, err := queue.ClaimNext("7")
			if err != nil {
				return err
			}
			if cmd != nil {
				mu.Lock()
				claimed[cmd.ID]++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, claimed, pending, "恰好每条待下发命令被领取一次")
	for id, n := range claimed {
		assert.Equal(t, 1, n, "命令 %d 被重复送达", id)
	}

	var remaining int64
	require.NoError(t, db.Model(&model.Command{}).
		Where("status = ?", model.CommandStatusPending).Count(&remaining).Error)
	assert.Equal(t, int64(0), remaining)
}

// TestUnscopedCommandClaim 不限定设备的命令可被归属操作员的任意设备领取，
// 但其他操作员的设备拿不到
func TestUnscopedCommandClaim(t *testing.T) {
	db := setupTestDB(t)
	owner := seedOperator(t, db, "42")
	other := seedOperator(t, db, "43")
	seedDevice(t, db, owner.ID, "7")
	seedDevice(t, db, other.ID, "8")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)

	_, err := queue.Enqueue(owner.ID, "", "off", 0)
	require.NoError(t, err)

	// 他人设备轮询拿不到
	cmd, err := queue.ClaimNext("8")
	require.NoError(t, err)
	assert.Nil(t, cmd)

	// 归属设备可以领取
	cmd, err = queue.ClaimNext("7")
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, "off", cmd.Payload)
}

// TestDeliveredNeverReclaimed 已送达的命令不会被再次领取
func TestDeliveredNeverReclaimed(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)

	_, err := queue.Enqueue(operator.ID, "7", "30", 30)
	require.NoError(t, err)

	first, err := queue.ClaimNext("7")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := queue.ClaimNext("7")
	require.NoError(t, err)
	assert.Nil(t, second)

	// 送达状态与时间戳保持不变
	var stored model.Command
	require.NoError(t, db.First(&stored, first.ID).Error)
	assert.Equal(t, model.CommandStatusDelivered, stored.Status)
	require.NotNil(t, stored.DeliveredAt)
}

// recordingNotifier 测试桩：记录通知并按需返回错误
type recordingNotifier struct {
	calls chan string
	fail  bool
}

func (n *recordingNotifier) NotifyDelivered(ctx context.Context, chatID, deviceNumber, payload string, duration int) error {
	n.calls <- chatID
	if n.fail {
		return fmt.Errorf("notify failed")
	}
	return nil
}

// TestNotifierCalledAfterClaim 领取成功后异步触发通知
func TestNotifierCalledAfterClaim(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	notifier := &recordingNotifier{calls: make(chan string, 1)}
	queue := NewCommandQueue(db, NewDeviceRegistry(db), notifier)

	_, err := queue.Enqueue(operator.ID, "7", "30", 30)
	require.NoError(t, err)

	cmd, err := queue.ClaimNext("7")
	require.NoError(t, err)
	require.NotNil(t, cmd)

	select {
	case chatID := <-notifier.calls:
		assert.Equal(t, "42", chatID)
	case <-time.After(2 * time.Second):
		t.Fatal("通知未触发")
	}
}

// TestNotifierFailureDoesNotAffectClaim 通知失败不影响领取结果与落库状态
func TestNotifierFailureDoesNotAffectClaim(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	notifier := &recordingNotifier{calls: make(chan string, 1), fail: true}
	queue := NewCommandQueue(db, NewDeviceRegistry(db), notifier)

	_, err := queue.Enqueue(operator.ID, "7", "30", 30)
	require.NoError(t, err)

	cmd, err := queue.ClaimNext("7")
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, model.CommandStatusDelivered, cmd.Status)

	<-notifier.calls

	var stored model.Command
	require.NoError(t, db.First(&stored, cmd.ID).Error)
	assert.Equal(t, model.CommandStatusDelivered, stored.Status)
}
