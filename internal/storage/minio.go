package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"resumind-go/internal/config"
	"resumind-go/internal/processor"
	"resumind-go/internal/types"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const uploadPrefix = "uploads"

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("对象不存在")

// ErrInvalidObjectPath 路径不属于本服务的存储桶
var ErrInvalidObjectPath = errors.New("无效的对象路径")

// MinIO 提供对象存储功能
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	logger *log.Logger
}

var _ processor.FileStore = (*MinIO)(nil)

// ObjectInfo 下载时返回的对象元信息
type ObjectInfo struct {
	Size        int64
	ContentType string
	Name        string
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("MinIO存储桶名称不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] Initializing client with endpoint: %s, bucket: %s", cfg.Endpoint, cfg.BucketName)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.BucketName,
		logger: logger,
	}

	ctx := context.Background()
	if err := m.ensureBucketExists(ctx, cfg.Location); err != nil {
		return nil, err
	}
	if cfg.UploadExpireDays > 0 {
		if err := m.setupLifecycle(ctx, cfg.UploadExpireDays); err != nil {
			logger.Printf("[MinIO] Warning: Failed to set up lifecycle rules: %v", err)
		}
	}

	logger.Printf("[MinIO] Client initialized successfully for endpoint: %s", cfg.Endpoint)
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, location string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		m.logger.Printf("[MinIO] Bucket %s already exists.", m.bucket)
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	m.logger.Printf("[MinIO] Bucket %s created successfully.", m.bucket)
	return nil
}

// 上传目录下的对象按天数过期
func (m *MinIO) setupLifecycle(ctx context.Context, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:         "expire-uploads",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: uploadPrefix + "/"},
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, cfg)
}

// Upload 实现 processor.FileStore，返回 "<bucket>/uploads/<uuid>/<文件名>"
func (m *MinIO) Upload(ctx context.Context, file *types.CandidateFile) (*types.UploadResult, error) {
	if file == nil {
		return nil, fmt.Errorf("上传文件不能为空")
	}
	objectKey := uploadObjectKey(uuid.NewString(), file.Name)
	contentType := file.MIMEType
	if contentType == "" {
		contentType = getContentType(path.Ext(file.Name))
	}
	if _, err := m.UploadFile(ctx, objectKey, bytes.NewReader(file.Data), int64(len(file.Data)), contentType); err != nil {
		return nil, err
	}
	return &types.UploadResult{Path: m.bucket + "/" + objectKey}, nil
}

// UploadFile 上传到配置的存储桶，返回对象键
func (m *MinIO) UploadFile(ctx context.Context, objectKey string, reader io.Reader, fileSize int64, contentType string) (string, error) {
	if m.cfg.EnableTestLogging {
		m.logger.Printf("[MinIO-UploadFile] Uploading: ObjectKey='%s', FileSize=%d, ContentType='%s', Bucket='%s'", objectKey, fileSize, contentType, m.bucket)
	}
	info, err := m.client.PutObject(ctx, m.bucket, objectKey, reader, fileSize, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	if m.cfg.EnableTestLogging {
		m.logger.Printf("[MinIO-UploadFile] Uploaded %s, ETag: %s, Size: %d", objectKey, info.ETag, info.Size)
	}
	return objectKey, nil
}

// Open 按 Upload 返回的路径打开对象，调用方负责关闭
func (m *MinIO) Open(ctx context.Context, objectPath string) (io.ReadCloser, *ObjectInfo, error) {
	key, err := m.objectKey(objectPath)
	if err != nil {
		return nil, nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("获取对象 %s 失败: %w", objectPath, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("获取对象 %s 状态失败: %w", objectPath, err)
	}
	return obj, &ObjectInfo{Size: stat.Size, ContentType: stat.ContentType, Name: path.Base(key)}, nil
}

// DownloadFile 按路径读取对象全部内容
func (m *MinIO) DownloadFile(ctx context.Context, objectPath string) ([]byte, error) {
	rc, _, err := m.Open(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 数据失败: %w", objectPath, err)
	}
	return data, nil
}

func (m *MinIO) objectKey(objectPath string) (string, error) {
	return splitObjectPath(m.bucket, objectPath)
}

// splitObjectPath 去掉路径中的存储桶前缀，拒绝其他存储桶、".." 路径和上传目录本身
func splitObjectPath(bucket, objectPath string) (string, error) {
	p := strings.TrimPrefix(objectPath, "/")
	key, ok := strings.CutPrefix(p, bucket+"/")
	if !ok || key == "" || key == uploadPrefix {
		return "", fmt.Errorf("%w: %s", ErrInvalidObjectPath, objectPath)
	}
	if cleaned := path.Clean(key); cleaned != key || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidObjectPath, objectPath)
	}
	return key, nil
}

func uploadObjectKey(id, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	// ".." 会把键折叠回上传目录，导致不同运行互相覆盖
	if name == "" || name == "." || name == ".." || name == "/" || path.Clean(name) != name {
		name = "file"
	}
	return path.Join(uploadPrefix, id, name)
}

func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
