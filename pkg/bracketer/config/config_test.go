package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/bracketer/pkg/bracketer/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).String("k", ""))
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"key exists", map[string]any{"entity_trait": "resource_id"}, "resource_id"},
		{"key missing", map[string]any{}, "instance_id"},
		{"empty string", map[string]any{"entity_trait": ""}, ""},
		{"wrong type", map[string]any{"entity_trait": 12}, "instance_id"},
		{"nil map", nil, "instance_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String("entity_trait", "instance_id"))
		})
	}
}

func TestDuration(t *testing.T) {
	def := 24 * time.Hour
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string", "2s", 2 * time.Second},
		{"compound string", "1h30m", 90 * time.Minute},
		{"invalid string", "soon", def},
		{"int seconds", 30, 30 * time.Second},
		{"int64 seconds", int64(5), 5 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", 3 * time.Minute, 3 * time.Minute},
		{"zero disables", "0s", 0},
		{"wrong type", true, def},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"state_ttl": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("state_ttl", def))
		})
	}

	assert.Equal(t, def, config.New(nil).Duration("state_ttl", def))
}

func TestBoolIntStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"ordered":  true,
		"workers":  8,
		"w64":      int64(3),
		"wfloat":   4.0,
		"wfrac":    4.5,
		"types":    []any{"a", "b"},
		"strs":     []string{"x"},
		"mixed":    []any{"a", 1},
		"notabool": "yes",
	})

	assert.True(t, cfg.Bool("ordered", false))
	assert.False(t, cfg.Bool("notabool", false))
	assert.True(t, cfg.Bool("missing", true))

	assert.Equal(t, 8, cfg.Int("workers", 1))
	assert.Equal(t, 3, cfg.Int("w64", 1))
	assert.Equal(t, 4, cfg.Int("wfloat", 1))
	assert.Equal(t, 1, cfg.Int("wfrac", 1))

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("types", nil))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("strs", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("mixed", []string{"d"}))
}

func TestSubAndMerge(t *testing.T) {
	cfg := config.New(map[string]any{
		"bracketer": map[string]any{"state_ttl": "1h", "ordered": false},
		"scalar":    "x",
	})

	sub := cfg.Sub("bracketer")
	assert.Equal(t, time.Hour, sub.Duration("state_ttl", 0))
	assert.Empty(t, cfg.Sub("scalar").Raw())
	assert.Empty(t, cfg.Sub("missing").Raw())

	merged := sub.Merge(config.New(map[string]any{"ordered": true, "render_policy": "strict"}))
	assert.True(t, merged.Bool("ordered", false))
	assert.Equal(t, "strict", merged.String("render_policy", ""))
	assert.Equal(t, time.Hour, merged.Duration("state_ttl", 0))

	// The receiver is not modified.
	assert.False(t, sub.Bool("ordered", true))
	assert.False(t, sub.Has("render_policy"))
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "options.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("state_ttl: 12h\nordered: true\nentity_trait: resource_id\n"), 0o600))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cfg.Duration("state_ttl", 0))
	assert.True(t, cfg.Bool("ordered", false))
	assert.Equal(t, "resource_id", cfg.String("entity_trait", ""))

	jsonPath := filepath.Join(dir, "options.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"store_timeout": 3, "render_policy": "strict"}`), 0o600))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Duration("store_timeout", 0))
	assert.Equal(t, "strict", cfg.String("render_policy", ""))

	// Unknown extensions are detected from the content.
	confPath := filepath.Join(dir, "options.conf")
	require.NoError(t, os.WriteFile(confPath, []byte(`  {"ordered": true}`), 0o600))
	cfg, err = config.FromFile(confPath)
	require.NoError(t, err)
	assert.True(t, cfg.Bool("ordered", false))

	// Options nested under the bracketer section of a shared pipeline file.
	pipelinePath := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(pipelinePath, []byte("sinks: [stdout]\nbracketer:\n  render_policy: strict\n"), 0o600))
	cfg, err = config.FromFile(pipelinePath)
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.String("render_policy", ""))
	assert.False(t, cfg.Has("sinks"))

	cfg, err = config.Parse(nil)
	require.NoError(t, err)
	assert.False(t, cfg.Has("ordered"))

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = config.FromYAML([]byte("::: not yaml"))
	assert.Error(t, err)

	_, err = config.FromJSON([]byte("{"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("BRACKETER_DEFINITION", "def.yaml")

		cfg, err := config.LoadEnv()
		require.NoError(t, err)
		assert.Equal(t, "def.yaml", cfg.Definition)
		assert.Equal(t, config.BackendMemory, cfg.Backend)
		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
		assert.Equal(t, "bracketer:", cfg.RedisPrefix)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, time.Minute, cfg.SweepEvery)
		assert.Empty(t, cfg.Options().Raw())

		lvl, err := cfg.Level()
		require.NoError(t, err)
		assert.Equal(t, slog.LevelInfo, lvl)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("BRACKETER_DEFINITION", "def.yaml")
		t.Setenv("BRACKETER_BACKEND", "redis")
		t.Setenv("BRACKETER_REDIS_DB", "2")
		t.Setenv("BRACKETER_WORKERS", "16")
		t.Setenv("BRACKETER_STATE_TTL", "6h")
		t.Setenv("BRACKETER_RENDER_POLICY", "strict")
		t.Setenv("BRACKETER_ORDERED", "true")
		t.Setenv("BRACKETER_LOG_LEVEL", "debug")

		cfg, err := config.LoadEnv()
		require.NoError(t, err)
		assert.Equal(t, config.BackendRedis, cfg.Backend)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, 16, cfg.Workers)

		opts := cfg.Options()
		assert.Equal(t, 6*time.Hour, opts.Duration("state_ttl", 0))
		assert.Equal(t, "strict", opts.String("render_policy", ""))
		assert.True(t, opts.Bool("ordered", false))
		assert.False(t, opts.Has("store_timeout"))

		lvl, err := cfg.Level()
		require.NoError(t, err)
		assert.Equal(t, slog.LevelDebug, lvl)
	})

	t.Run("explicit zero values override file", func(t *testing.T) {
		t.Setenv("BRACKETER_DEFINITION", "def.yaml")
		t.Setenv("BRACKETER_STATE_TTL", "0")
		t.Setenv("BRACKETER_ORDERED", "false")

		cfg, err := config.LoadEnv()
		require.NoError(t, err)

		opts := cfg.Options()
		require.True(t, opts.Has("state_ttl"))
		assert.Equal(t, time.Duration(0), opts.Duration("state_ttl", time.Hour))
		require.True(t, opts.Has("ordered"))
		assert.False(t, opts.Bool("ordered", true))
		assert.False(t, opts.Has("store_timeout"))

		file := config.New(map[string]any{"state_ttl": "6h", "ordered": true})
		merged := file.Merge(opts)
		assert.Equal(t, time.Duration(0), merged.Duration("state_ttl", time.Hour))
		assert.False(t, merged.Bool("ordered", true))
	})

	t.Run("missing definition", func(t *testing.T) {
		t.Setenv("BRACKETER_DEFINITION", "")
		os.Unsetenv("BRACKETER_DEFINITION")

		_, err := config.LoadEnv()
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("BRACKETER_DEFINITION", "def.yaml")

		t.Setenv("BRACKETER_BACKEND", "etcd")
		_, err := config.LoadEnv()
		assert.ErrorContains(t, err, "unknown backend")

		t.Setenv("BRACKETER_BACKEND", "sqlite")
		t.Setenv("BRACKETER_WORKERS", "0")
		_, err = config.LoadEnv()
		assert.ErrorContains(t, err, "workers")

		t.Setenv("BRACKETER_WORKERS", "2")
		t.Setenv("BRACKETER_LOG_LEVEL", "loud")
		_, err = config.LoadEnv()
		assert.ErrorContains(t, err, "log level")

		t.Setenv("BRACKETER_LOG_LEVEL", "warn")
		t.Setenv("BRACKETER_REDIS_DB", "zero")
		_, err = config.LoadEnv()
		assert.ErrorContains(t, err, "parse env")
	})
}
