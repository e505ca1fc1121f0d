package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaydispatchpro/relaydispatchpro/internal/config"
	"github.com/relaydispatchpro/relaydispatchpro/internal/database"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/relaydispatchpro/relaydispatchpro/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// setupTestServer 组装完整HTTP栈：SQLite + 队列 + 路由
func setupTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	err := database.InitSQLite(config.SQLiteConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	db := database.GetDB()
	sessions := service.NewMemorySessionStore()
	queue := service.NewCommandQueue(db, service.NewDeviceRegistry(db), nil)
	ingress := service.NewIngressAdapter(db, queue)
	history := service.NewHistoryService(db, cfg)

	return SetupRouter(cfg, queue, ingress, history, sessions)
}

func seedOperatorWithDevice(t *testing.T, chatID, deviceNumber string) model.Operator {
	t.Helper()
	db := database.GetDB()
	operator := model.Operator{ChatID: chatID, DisplayName: "op-" + chatID}
	require.NoError(t, db.Create(&operator).Error)
	require.NoError(t, db.Create(&model.Device{OwnerID: operator.ID, DeviceNumber: deviceNumber}).Error)
	return operator
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestSubmitThenPollFlow 提交到轮询的完整链路：
// 操作员提交 "7/30"，设备7轮询到 {"command":"30","duration":30}，
// 再次轮询得到 {"command":null}，未注册设备得到404。
func TestSubmitThenPollFlow(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.TTL = time.Minute
	cfg.Session.AdminTTL = time.Hour
	r := setupTestServer(t, cfg)
	seedOperatorWithDevice(t, "42", "7")

	// 提交命令
	w := doJSON(t, r, http.MethodPost, "/api/v1/commands",
		map[string]string{"chat_id": "42", "text": "7/30"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 设备轮询领取
	w = doJSON(t, r, http.MethodGet, "/get_command?esp=7", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var poll struct {
		Command  *string `json:"command"`
		Duration int     `json:"duration"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	require.NotNil(t, poll.Command)
	assert.Equal(t, "30", *poll.Command)
	assert.Equal(t, 30, poll.Duration)

	// 队列已空
	w = doJSON(t, r, http.MethodGet, "/get_command?esp=7", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	assert.Nil(t, poll.Command)

	// 未注册设备
	w = doJSON(t, r, http.MethodGet, "/get_command?esp=99", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 缺少esp参数
	w = doJSON(t, r, http.MethodGet, "/get_command", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestSubmitInvalidCommand 格式不正确的提交返回400
func TestSubmitInvalidCommand(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.TTL = time.Minute
	r := setupTestServer(t, cfg)
	seedOperatorWithDevice(t, "42", "7")

	w := doJSON(t, r, http.MethodPost, "/api/v1/commands",
		map[string]string{"chat_id": "42", "text": "7/abc"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/commands",
		map[string]string{"chat_id": "404", "text": "7/30"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestAdminAuthFlow 配置口令后管理接口要求令牌
func TestAdminAuthFlow(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Session.TTL = time.Minute
	cfg.Session.AdminTTL = time.Hour
	cfg.Admin.PasswordHash = string(hash)
	r := setupTestServer(t, cfg)

	// 无令牌被拒
	w := doJSON(t, r, http.MethodGet, "/api/v1/operators", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 口令错误
	w = doJSON(t, r, http.MethodPost, "/api/v1/login",
		map[string]string{"password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 登录拿令牌
	w = doJSON(t, r, http.MethodPost, "/api/v1/login",
		map[string]string{"password": "secret"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Data.Token)

	// 携带令牌访问放行
	headers := map[string]string{"X-Admin-Token": login.Data.Token}
	w = doJSON(t, r, http.MethodGet, "/api/v1/operators", nil, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	// 伪造令牌被拒
	w = doJSON(t, r, http.MethodGet, "/api/v1/operators", nil,
		map[string]string{"X-Admin-Token": "bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestOperatorDeviceCRUD 操作员与设备的管理链路
func TestOperatorDeviceCRUD(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.TTL = time.Minute
	r := setupTestServer(t, cfg)

	// 创建操作员
	w := doJSON(t, r, http.MethodPost, "/api/v1/operators",
		map[string]string{"chat_id": "42", "display_name": "Alice"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data model.Operator `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// 重复 chat_id 被拒
	w = doJSON(t, r, http.MethodPost, "/api/v1/operators",
		map[string]string{"chat_id": "42"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 注册设备
	w = doJSON(t, r, http.MethodPost, "/api/v1/devices",
		map[string]interface{}{"owner_id": created.Data.ID, "device_number": "7"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 设备编号全局唯一
	w = doJSON(t, r, http.MethodPost, "/api/v1/devices",
		map[string]interface{}{"owner_id": created.Data.ID, "device_number": "7"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 列表含设备编号
	w = doJSON(t, r, http.MethodGet, "/api/v1/operators", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"device_numbers":["7"]`)

	// 删除操作员：设备级联删除，历史保留
	w = doJSON(t, r, http.MethodPost, "/api/v1/commands",
		map[string]string{"chat_id": "42", "text": "7/30"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/operators/%d", created.Data.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	db := database.GetDB()
	var deviceCount, commandCount int64
	require.NoError(t, db.Model(&model.Device{}).Count(&deviceCount).Error)
	require.NoError(t, db.Model(&model.Command{}).Count(&commandCount).Error)
	assert.Equal(t, int64(0), deviceCount)
	assert.Equal(t, int64(1), commandCount)

	var orphan model.Command
	require.NoError(t, db.First(&orphan).Error)
	assert.Nil(t, orphan.OwnerID, "删除操作员后命令与其解绑")
}

// TestHistoryEndpoints 历史查询、CSV导出与清空
func TestHistoryEndpoints(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.TTL = time.Minute
	r := setupTestServer(t, cfg)
	operator := seedOperatorWithDevice(t, "42", "7")

	w := doJSON(t, r, http.MethodPost, "/api/v1/commands",
		map[string]string{"chat_id": "42", "text": "7/30"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// 查询
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/operators/%d/commands", operator.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"payload":"30"`)

	// CSV导出
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/operators/%d/commands/export", operator.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "Command,Created At")
	assert.Contains(t, w.Body.String(), "7/30")

	// 清空
	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/operators/%d/commands", operator.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/operators/%d/commands", operator.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"payload":"30"`)
}

// TestHealthEndpoint 健康检查
func TestHealthEndpoint(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.TTL = time.Minute
	r := setupTestServer(t, cfg)

	w := doJSON(t, r, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
