package service

import (
	"testing"

	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSubmitTextValid 合法提交：开启指定秒数与关闭
func TestSubmitTextValid(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)
	ingress := NewIngressAdapter(db, queue)

	cmd, err := ingress.SubmitText(operator.ID, "7/30")
	require.NoError(t, err)
	assert.Equal(t, "30", cmd.Payload)
	assert.Equal(t, 30, cmd.Duration)
	assert.Equal(t, "7", cmd.DeviceNumber)
	assert.Equal(t, model.CommandStatusPending, cmd.Status)

	cmd, err = ingress.SubmitText(operator.ID, "7/off")
	require.NoError(t, err)
	assert.Equal(t, model.CommandOff, cmd.Payload)
	assert.Equal(t, 0, cmd.Duration)

	// 首尾空白允许
	cmd, err = ingress.SubmitText(operator.ID, "  7/60  ")
	require.NoError(t, err)
	assert.Equal(t, "60", cmd.Payload)
}

// TestSubmitTextInvalidFormat 不合法输入一律拒绝且不落库
func TestSubmitTextInvalidFormat(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)
	ingress := NewIngressAdapter(db, queue)

	invalid := []string{
		"",
		"7",
		"7/",
		"/30",
		"7/0",
		"7/-5",
		"7/3.5",
		"abc/30",
		"7/onn",
		"7/123456",
		"7/30/60",
		"7 30",
	}
	for _, text := range invalid {
		cmd, err := ingress.SubmitText(operator.ID, text)
		assert.ErrorIs(t, err, ErrInvalidCommandFormat, "输入 %q 应被拒绝", text)
		assert.Nil(t, cmd)
	}

	var count int64
	require.NoError(t, db.Model(&model.Command{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

// TestSubmitTokenOwnership 只能向自己名下的设备下发命令
func TestSubmitTokenOwnership(t *testing.T) {
	db := setupTestDB(t)
	owner := seedOperator(t, db, "42")
	other := seedOperator(t, db, "43")
	seedDevice(t, db, owner.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)
	ingress := NewIngressAdapter(db, queue)

	// 他人设备
	cmd, err := ingress.SubmitToken(other.ID, "7", "30")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Nil(t, cmd)

	// 不存在的设备
	cmd, err = ingress.SubmitToken(owner.ID, "99", "30")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Nil(t, cmd)

	// 归属设备正常入队
	cmd, err = ingress.SubmitToken(owner.ID, "7", "30")
	require.NoError(t, err)
	assert.Equal(t, "30", cmd.Payload)
}

// TestSubmitTokenCaseInsensitive 命令字大小写不敏感
func TestSubmitTokenCaseInsensitive(t *testing.T) {
	db := setupTestDB(t)
	operator := seedOperator(t, db, "42")
	seedDevice(t, db, operator.ID, "7")

	queue := NewCommandQueue(db, NewDeviceRegistry(db), nil)
	ingress := NewIngressAdapter(db, queue)

	cmd, err := ingress.SubmitToken(operator.ID, "7", "OFF")
	require.NoError(t, err)
	assert.Equal(t, model.CommandOff, cmd.Payload)
	assert.Equal(t, 0, cmd.Duration)
}
