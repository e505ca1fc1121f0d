package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemorySessionStore 进程内会话存储的写读删与过期
func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	// 不存在的键
	_, ok, err := store.Get(ctx, SelectedDeviceKey("42"))
	require.NoError(t, err)
	assert.False(t, ok)

	// 写入后可读
	require.NoError(t, store.Set(ctx, SelectedDeviceKey("42"), "7", time.Minute))
	value, ok, err := store.Get(ctx, SelectedDeviceKey("42"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "7", value)

	// 覆盖写
	require.NoError(t, store.Set(ctx, SelectedDeviceKey("42"), "8", time.Minute))
	value, _, _ = store.Get(ctx, SelectedDeviceKey("42"))
	assert.Equal(t, "8", value)

	// 删除后不存在
	require.NoError(t, store.Del(ctx, SelectedDeviceKey("42")))
	_, ok, _ = store.Get(ctx, SelectedDeviceKey("42"))
	assert.False(t, ok)
}

// TestMemorySessionStoreExpiry 过期条目按不存在处理
func TestMemorySessionStoreExpiry(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, SelectedDeviceKey("42"), "7", 30*time.Millisecond))

	_, ok, _ := store.Get(ctx, SelectedDeviceKey("42"))
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok, _ = store.Get(ctx, SelectedDeviceKey("42"))
	assert.False(t, ok)
}

// TestSessionKeys 两类会话键互不冲突
func TestSessionKeys(t *testing.T) {
	assert.NotEqual(t, SelectedDeviceKey("abc"), AdminTokenKey("abc"))
}
