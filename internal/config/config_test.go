package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadFrom(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/tmp/video-assembly", cfg.TempDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, 2, cfg.MaxConcurrentSegments)
	assert.Equal(t, 10*time.Minute, cfg.AssemblyTimeout())
	assert.Equal(t, int64(512<<20), cfg.MaxUploadBytes())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.JobRetention())
	assert.Equal(t, 5*time.Minute, cfg.PurgeInterval())
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"PORT":                    "3000",
		"TEMP_DIR":                "/custom/temp",
		"FFMPEG_PATH":             "/opt/ffmpeg/bin/ffmpeg",
		"FFPROBE_PATH":            "/opt/ffmpeg/bin/ffprobe",
		"MAX_CONCURRENT_SEGMENTS": "4",
		"ASSEMBLY_TIMEOUT_SEC":    "120",
		"MAX_UPLOAD_MB":           "64",
		"ALLOWED_ORIGINS":         "https://app.example.com,https://*.example.org",
		"S3_BUCKET":               "my-bucket",
		"S3_REGION":               "us-east-1",
		"S3_ENDPOINT":             "http://minio:9000",
		"AWS_ACCESS_KEY_ID":       "access-key",
		"AWS_SECRET_ACCESS_KEY":   "secret-key",
		"LOG_FORMAT":              "json",
		"LOG_LEVEL":               "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "/opt/ffmpeg/bin/ffprobe", cfg.FFprobePath)
	assert.Equal(t, 4, cfg.MaxConcurrentSegments)
	assert.Equal(t, 2*time.Minute, cfg.AssemblyTimeout())
	assert.Equal(t, int64(64<<20), cfg.MaxUploadBytes())
	assert.Equal(t, []string{"https://app.example.com", "https://*.example.org"}, cfg.AllowedOrigins)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "http://minio:9000", cfg.S3Endpoint)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{"unparseable port", map[string]string{"PORT": "not-a-number"}, nil},
		{"port out of range", map[string]string{"PORT": "70000"}, ErrInvalidPort},
		{"zero workers", map[string]string{"MAX_CONCURRENT_SEGMENTS": "0"}, ErrInvalidConcurrency},
		{"too many workers", map[string]string{"MAX_CONCURRENT_SEGMENTS": "64"}, ErrInvalidConcurrency},
		{"negative timeout", map[string]string{"ASSEMBLY_TIMEOUT_SEC": "-1"}, ErrInvalidTimeout},
		{"zero upload limit", map[string]string{"MAX_UPLOAD_MB": "0"}, ErrInvalidUploadLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.env)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_ToolPaths(t *testing.T) {
	cfg, err := load(t, nil)
	require.NoError(t, err)

	cfg.FFprobePath = ""
	assert.ErrorIs(t, cfg.Validate(), ErrToolPathRequired)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		TempDir:            "/tmp/test",
		FFmpegPath:         "ffmpeg",
		S3Bucket:           "bucket",
		AWSAccessKeyID:     "AKIAEXAMPLE",
		AWSSecretAccessKey: "secret-key",
	}

	str := cfg.String()

	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "bucket")
	assert.NotContains(t, str, "AKIAEXAMPLE")
	assert.NotContains(t, str, "secret-key")
}

func TestConfig_JSONMasksSecrets(t *testing.T) {
	cfg := &Config{AWSAccessKeyID: "AKIAEXAMPLE", AWSSecretAccessKey: "secret-key"}

	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "AKIAEXAMPLE")
	assert.NotContains(t, string(b), "secret-key")
}

func TestConfig_NewLoggerTo(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := (&Config{LogFormat: "json", LogLevel: "info"}).NewLoggerTo(&buf)

		logger.Debug("hidden")
		logger.Info("assembly stage", slog.String("stage", "MUXING"))

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `"msg":"assembly stage"`)
		assert.Contains(t, buf.String(), `"stage":"MUXING"`)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := (&Config{LogFormat: "text", LogLevel: "debug"}).NewLoggerTo(&buf)

		logger.Debug("probe", slog.Float64("duration", 5))

		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "duration=5")
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
