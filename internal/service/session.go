package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaydispatchpro/relaydispatchpro/internal/config"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/cache"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
)

// SessionStore 带过期时间的键值会话存储。
// 保存机器人对话中"当前选中的设备"与管理员登录令牌这类跨请求的易失状态，
// 替代进程内的裸全局map：有过期、可外置，进程重启或多实例下行为一致。
type SessionStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
}

// SelectedDeviceKey 会话键：某个会话当前选中的设备
func SelectedDeviceKey(chatID string) string {
	return "session:selected_device:" + chatID
}

// AdminTokenKey 会话键：管理员登录令牌
func AdminTokenKey(token string) string {
	return "session:admin_token:" + token
}

// NewSessionStore 根据配置选择后端：Redis 可用时用 Redis，否则退化为进程内存储
func NewSessionStore(cfg *config.Config) SessionStore {
	if cache.GetRedis() != nil {
		return &RedisSessionStore{}
	}
	logger.Info("Session store falling back to in-memory backend")
	return NewMemorySessionStore()
}

// RedisSessionStore 基于Redis的会话存储
type RedisSessionStore struct{}

// Set 写入会话条目
func (s *RedisSessionStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return cache.Set(ctx, key, value, ttl)
}

// Get 读取会话条目；不存在或已过期返回 ok=false
func (s *RedisSessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := cache.Get(ctx, key)
	if err != nil {
		if cache.IsNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read session: %w", err)
	}
	return value, true, nil
}

// Del 删除会话条目
func (s *RedisSessionStore) Del(ctx context.Context, key string) error {
	return cache.Del(ctx, key)
}

// MemorySessionStore 进程内会话存储（Redis未配置时的退路）
type MemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemorySessionStore 创建进程内会话存储
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{entries: make(map[string]memoryEntry)}
}

// Set 写入会话条目
func (s *MemorySessionStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}

	// 顺带清理已过期条目，避免长期运行下map只增不减
	for k, e := range s.entries {
		if time.Now().After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Get 读取会话条目；过期条目按不存在处理并惰性删除
func (s *MemorySessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Del 删除会话条目
func (s *MemorySessionStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
