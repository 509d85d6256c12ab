package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "无法写入临时配置文件")
	return path
}

// TestLoadConfigOverridesDefaults 验证 yaml 中的值覆盖默认值，未出现的字段保留默认值
func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
minio:
  bucketName: "cv"
upload:
  max_file_size_bytes: 1048576
pipeline:
  strict_checkpoint: false
  lock_ttl: "2m"
model_qpm_limits:
  qwen-long: 60
`)
	t.Setenv("ALIYUN_API_KEY", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "cv", cfg.MinIO.BucketName)
	assert.Equal(t, "localhost:9000", cfg.MinIO.Endpoint, "未配置的字段应保留默认值")
	assert.Equal(t, int64(1048576), cfg.Upload.MaxFileSizeBytes)
	assert.Equal(t, []string{"application/pdf"}, cfg.Upload.AllowedMIMETypes)
	assert.False(t, cfg.Pipeline.IsStrictCheckpoint())
	assert.Equal(t, 2*time.Minute, GetDuration(cfg.Pipeline.LockTTL, time.Minute))
	assert.Equal(t, 60, cfg.QPMForModel("qwen-long"))
	assert.Equal(t, 4.0, cfg.Converter.Scale)
	assert.Equal(t, "X-Session-Token", cfg.Auth.SessionHeader)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "aliyun:\n  api_key: from-file\n")
	t.Setenv("ALIYUN_API_KEY", "from-env")
	t.Setenv("REDIS_ADDRESS", "redis:6380")
	t.Setenv("RESUMIND_SESSION_TOKENS", "a,b")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Aliyun.APIKey)
	assert.Equal(t, "redis:6380", cfg.Redis.Address)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.SessionTokens)
}

func TestStrictCheckpointDefaultsToTrue(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  address: \":1\"\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Pipeline.IsStrictCheckpoint())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestCreateSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, CreateSampleConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "resumes", cfg.MinIO.BucketName)

	assert.Error(t, CreateSampleConfig(path), "已存在的文件不应被覆盖")
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, GetDuration("3s", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("bogus", time.Minute))
}
