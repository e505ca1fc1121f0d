package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/relaydispatchpro/relaydispatchpro/internal/config"
	"github.com/relaydispatchpro/relaydispatchpro/internal/model"
	"github.com/relaydispatchpro/relaydispatchpro/pkg/logger"
	"gorm.io/gorm"
)

// HistoryService 命令历史：查询、清空与CSV导出（可选归档到MinIO）。
// 历史只被显式清空动作删除，队列本身从不删除命令。
type HistoryService struct {
	db  *gorm.DB
	cfg *config.Config

	minioClient *minio.Client
}

// NewHistoryService 创建历史服务
func NewHistoryService(db *gorm.DB, cfg *config.Config) *HistoryService {
	return &HistoryService{db: db, cfg: cfg}
}

// List 按时间倒序返回某操作员的命令历史
func (s *HistoryService) List(ownerID uint, limit, offset int) ([]model.Command, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var commands []model.Command
	err := s.db.
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&commands).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list command history: %w", err)
	}
	return commands, nil
}

// Clear 清空某操作员的命令历史，返回删除的行数
func (s *HistoryService) Clear(ownerID uint) (int64, error) {
	res := s.db.Where("owner_id = ?", ownerID).Delete(&model.Command{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear command history: %w", res.Error)
	}
	logger.Info("Command history cleared", "owner_id", ownerID, "deleted", res.RowsAffected)
	return res.RowsAffected, nil
}

// BuildCSV 把某操作员的历史构建为CSV（列与旧版导出保持一致：Command, Created At）
func (s *HistoryService) BuildCSV(ownerID uint) ([]byte, error) {
	var commands []model.Command
	err := s.db.
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&commands).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load command history: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Command", "Created At"}); err != nil {
		return nil, err
	}
	for _, cmd := range commands {
		text := cmd.Payload
		if cmd.DeviceNumber != "" {
			text = fmt.Sprintf("%s/%s", cmd.DeviceNumber, cmd.Payload)
		}
		if err := w.Write([]string{text, cmd.CreatedAt.Format("2006-01-02 15:04:05")}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportCSV 构建CSV并按配置归档；返回CSV内容与归档对象URI（未归档时为空）
func (s *HistoryService) ExportCSV(ctx context.Context, ownerID uint) ([]byte, string, error) {
	data, err := s.BuildCSV(ownerID)
	if err != nil {
		return nil, "", err
	}

	if strings.ToLower(strings.TrimSpace(s.cfg.Export.Backend)) != "minio" {
		return data, "", nil
	}

	uri, err := s.archiveToMinio(ctx, ownerID, data)
	if err != nil {
		// 归档失败不影响导出本身，记录后照常返回CSV
		logger.Warn("CSV archive to MinIO failed", "owner_id", ownerID, "error", err)
		return data, "", nil
	}
	return data, uri, nil
}

// archiveToMinio 把CSV写入对象存储
func (s *HistoryService) archiveToMinio(ctx context.Context, ownerID uint, data []byte) (string, error) {
	cli, err := s.getMinioClient()
	if err != nil {
		return "", err
	}

	mcfg := s.cfg.Export.Minio
	bucket := mcfg.Bucket
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return "", fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	objectName := fmt.Sprintf("%s/%d/%s-%s.csv",
		strings.Trim(mcfg.Prefix, "/"),
		ownerID,
		time.Now().Format("20060102-150405"),
		uuid.NewString()[:8],
	)
	_, err = cli.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	uri := fmt.Sprintf("minio://%s/%s", bucket, objectName)
	logger.Info("Command history archived", "owner_id", ownerID, "uri", uri)
	return uri, nil
}

// getMinioClient 惰性初始化MinIO客户端
func (s *HistoryService) getMinioClient() (*minio.Client, error) {
	if s.minioClient != nil {
		return s.minioClient, nil
	}
	mcfg := s.cfg.Export.Minio
	endpoint := fmt.Sprintf("%s:%d", mcfg.Host, mcfg.Port)
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mcfg.AccessKey, mcfg.SecretKey, ""),
		Secure: mcfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio client: %w", err)
	}
	s.minioClient = cli
	return cli, nil
}
