package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PARAM_PREFIX", "/chat-worker")
	t.Setenv("MODEL", "llama-3.1-8b")
	t.Setenv("IDENTITY_URL", "https://project.auth.example")
	t.Setenv("IDENTITY_API_KEY", "anon")
	t.Setenv("QUOTA_TABLE", "chat-quota")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, RunModeLambda, cfg.RunMode)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, 40, cfg.MaxReqPerDay)
	require.Equal(t, QuotaBackendDynamoDB, cfg.QuotaBackend)
	require.Equal(t, 10*time.Minute, cfg.ParamCacheTTL)
	require.Equal(t, 5*time.Minute, cfg.IdentityCacheTTL)
	require.Empty(t, cfg.AllowedOrigins)
	require.Equal(t, 100, cfg.MaxTitlePerDay)
}

func TestLoad_DefaultFallbackChainIsNotEmpty(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", cfg.LastResortModel)
	require.Equal(t, []string{"llama-3.1-8b", "gpt-4o-mini"}, cfg.Fallbacks())
}

func TestLoad_LastResortCanBeDisabled(t *testing.T) {
	setRequired(t)
	t.Setenv("LAST_RESORT_MODEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"llama-3.1-8b"}, cfg.Fallbacks())
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "/chat-worker")
	// MODEL, IDENTITY_URL and IDENTITY_API_KEY are left unset.
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ListsAndClamp(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_ORIGIN", "https://a.example, https://b.example,")
	t.Setenv("MAX_REQ_PER_DAY", "0")
	t.Setenv("RUN_MODE", "SERVER")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 1, cfg.MaxReqPerDay)
	require.Equal(t, RunModeServer, cfg.RunMode)
}

func TestValidate_Backends(t *testing.T) {
	base := Config{RunMode: RunModeLambda, LogFormat: "json", MaxMessages: 1, MaxMessageChars: 1}

	c := base
	c.QuotaBackend = QuotaBackendDynamoDB
	require.ErrorContains(t, c.Validate(), "QUOTA_TABLE")

	c = base
	c.QuotaBackend = QuotaBackendRedis
	require.ErrorContains(t, c.Validate(), "REDIS_ADDR")
	c.RedisAddr = "localhost:6379"
	require.NoError(t, c.Validate())

	c = base
	c.QuotaBackend = QuotaBackendMemory
	require.Error(t, c.Validate())
	c.RunMode = RunModeServer
	require.NoError(t, c.Validate())

	c = base
	c.QuotaBackend = "etcd"
	require.Error(t, c.Validate())

	c = base
	c.QuotaBackend = QuotaBackendMemory
	c.RunMode = "k8s"
	require.ErrorContains(t, c.Validate(), "RUN_MODE")
}

func TestFallbacks(t *testing.T) {
	c := Config{Model: "m-default", DeepModel: "m-deep", LastResortModel: "m-tiny"}
	require.Equal(t, []string{"m-default", "m-deep", "m-tiny"}, c.Fallbacks())

	c.DeepModel = ""
	require.Equal(t, []string{"m-default", "m-tiny"}, c.Fallbacks())

	c.FallbackModels = []string{"x", "y"}
	require.Equal(t, []string{"x", "y"}, c.Fallbacks())
}
