package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DISCORD_TOKEN", "bot-token")
	t.Setenv("DISCORD_GUILD_ID", "123456789012345678")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	setBaseEnv(t)
	t.Setenv("CATCHUP_REDIS_ADDR", "cache:6380")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.BasicConfig.Provider)
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers["openai"].Model)
	assert.Equal(t, "123456789012345678", cfg.Discord.GuildID)
	assert.Equal(t, ":8080", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "delete", cfg.BasicConfig.UploadRetention)
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, "eng", cfg.OCR.Language)
}

func TestLoadMissingGuildIDIsFatal(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DISCORD_TOKEN", "bot-token")
	t.Setenv("DISCORD_GUILD_ID", "")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingGuildID))
}

func TestLoadRejectsNonNumericGuildID(t *testing.T) {
	t.Chdir(t.TempDir())
	setBaseEnv(t)
	t.Setenv("DISCORD_GUILD_ID", "my-server")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCORD_GUILD_ID")
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	setBaseEnv(t)
	t.Setenv("CATCHUP_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")

	path := filepath.Join(dir, "catchup.json")
	body := `{
		"basic_config": {"server_address": ":9000", "file_base_dir": "files", "upload_retention": "keep", "temp_file_ttl": 30},
		"providers": {"gemini": {"model": "gemini-2.5-flash"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.BasicConfig.Provider)
	assert.Equal(t, "g-key", cfg.Providers["gemini"].APIKey)
	assert.Equal(t, "gemini-2.5-flash", cfg.Providers["gemini"].Model)
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, filepath.Join(dir, "files"), cfg.BasicConfig.FileBaseDir)
	assert.Equal(t, "keep", cfg.BasicConfig.UploadRetention)
	assert.Equal(t, 30, cfg.BasicConfig.TempFileTTL)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Chdir(t.TempDir())
	setBaseEnv(t)

	_, err := Load("does-not-exist.json")
	require.Error(t, err)
}

func TestLoadUnconfiguredProvider(t *testing.T) {
	t.Chdir(t.TempDir())
	setBaseEnv(t)
	t.Setenv("CATCHUP_PROVIDER", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider claude not configured")
}
