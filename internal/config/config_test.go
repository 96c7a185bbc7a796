package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ddbprov "github.com/dwsmith1983/feedrun/internal/provider/dynamodb"
	fsprov "github.com/dwsmith1983/feedrun/internal/provider/firestore"
	"github.com/dwsmith1983/feedrun/internal/provider/redis"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfig(t, `provider: redis
redis:
  addr: localhost:6379
  keyPrefix: "feedrun:"
server:
  addr: ":3000"
sources:
  path: feeds.yaml
ingestion:
  concurrency: 4
  fetchTimeout: 10s
alerts:
  - type: console
  - type: webhook
    url: https://hooks.example.com/x
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Provider)
	rc, ok := cfg.Redis.(*redis.Config)
	require.True(t, ok, "Redis config should be *redis.Config")
	assert.Equal(t, "localhost:6379", rc.Addr)
	assert.Equal(t, "feedrun:", rc.KeyPrefix)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, filepath.Join(dir, "feeds.yaml"), cfg.Sources.Path)
	assert.Equal(t, 4, cfg.Ingestion.Concurrency)
	assert.Equal(t, 10*time.Second, Duration(cfg.Ingestion.FetchTimeout, time.Minute))
	assert.Len(t, cfg.Alerts, 2)
}

func TestLoad_Defaults(t *testing.T) {
	dir := writeConfig(t, "{}\n")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Provider)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, int64(DefaultMaxRequestBody), cfg.Server.MaxRequestBody)
	assert.Equal(t, "memory", cfg.Sink.Type)
	assert.Equal(t, "feed", cfg.Ingestion.Fetcher)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, filepath.Join(dir, DefaultSourcesPath), cfg.Sources.Path)
	require.Len(t, cfg.Alerts, 1)
	assert.Equal(t, types.AlertConsole, cfg.Alerts[0].Type)
}

func TestLoad_ProviderSections(t *testing.T) {
	dir := writeConfig(t, `provider: dynamodb
dynamodb:
  tableName: feedrun-runs
  region: eu-west-1
firestore:
  projectId: feedrun-prod
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	dc, ok := cfg.DynamoDB.(*ddbprov.Config)
	require.True(t, ok)
	assert.Equal(t, "feedrun-runs", dc.TableName)
	fc, ok := cfg.Firestore.(*fsprov.Config)
	require.True(t, ok)
	assert.Equal(t, "feedrun-prod", fc.ProjectID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "invalid: [yaml")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown provider", "provider: etcd\n", "unknown provider"},
		{"redis without section", "provider: redis\n", "redis config is required"},
		{"redis without addr", "provider: redis\nredis:\n  keyPrefix: x\n", "redis.addr is required"},
		{"dynamodb without table", "provider: dynamodb\ndynamodb:\n  region: us-east-1\n", "dynamodb.tableName is required"},
		{"firestore without project", "provider: firestore\nfirestore:\n  collection: runs\n", "firestore.projectId is required"},
		{"postgres sink without dsn", "sink:\n  type: postgres\n", "sink.dsn is required"},
		{"unknown sink", "sink:\n  type: s3\n", "unknown sink type"},
		{"tool fetcher without url", "ingestion:\n  fetcher: tool\n", "toolUrl is required"},
		{"bad duration", "ingestion:\n  stuckTimeout: soon\n", "invalid duration"},
		{"archiver without dsn", "archiver:\n  enabled: true\n", "archiver.dsn is required"},
		{"webhook without url", "alerts:\n  - type: webhook\n", "url is required"},
		{"unknown alert", "alerts:\n  - type: pager\n", "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvPostgresDSN, "")
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvPostgresDSN, "postgres://env/feedrun")
	t.Setenv(EnvRedisAddr, "redis.internal:6379")
	t.Setenv(EnvRedisPassword, "hunter2")

	dir := writeConfig(t, `provider: redis
redis:
  addr: localhost:6379
sink:
  type: postgres
  dsn: postgres://file/feedrun
archiver:
  enabled: true
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Equal(t, "postgres://env/feedrun", cfg.Sink.DSN)
	assert.Equal(t, "postgres://env/feedrun", cfg.Archiver.DSN)
	rc := cfg.Redis.(*redis.Config)
	assert.Equal(t, "redis.internal:6379", rc.Addr)
	assert.Equal(t, "hunter2", rc.Password)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := writeConfig(t, "server:\n  addr: \":9000\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FEEDRUN_API_KEY=dotenv-key\n"), 0o644))
	t.Setenv(EnvAPIKey, "")
	require.NoError(t, os.Unsetenv(EnvAPIKey))
	t.Cleanup(func() { os.Unsetenv(EnvAPIKey) })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-key", cfg.Server.APIKey)
}

type mockSecrets struct {
	values map[string]string
	calls  int
}

func (m *mockSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	v, ok := m.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestLoad_ResolvesSecrets(t *testing.T) {
	t.Setenv(EnvPostgresDSN, "")
	sm := &mockSecrets{values: map[string]string{
		"feedrun/api-key": "s3cret",
		"feedrun/pg":      "postgres://secret/feedrun",
	}}
	dir := writeConfig(t, `server:
  apiKey: secretsmanager://feedrun/api-key
sink:
  type: postgres
  dsn: secretsmanager://feedrun/pg
archiver:
  enabled: true
  dsn: secretsmanager://feedrun/pg
`)
	cfg, err := Load(dir, WithSecretResolver(NewSecretsManagerResolver(sm)))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Server.APIKey)
	assert.Equal(t, "postgres://secret/feedrun", cfg.Sink.DSN)
	assert.Equal(t, "postgres://secret/feedrun", cfg.Archiver.DSN)
	assert.Equal(t, 2, sm.calls, "repeated references are fetched once")
}

func TestLoad_SecretMissing(t *testing.T) {
	sm := &mockSecrets{values: map[string]string{}}
	dir := writeConfig(t, "server:\n  apiKey: secretsmanager://nope\n")
	_, err := Load(dir, WithSecretResolver(NewSecretsManagerResolver(sm)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
	assert.Equal(t, 90*time.Second, Duration("90s", time.Minute))
}
