package cloud

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/icpstep/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func validConfigYAML() string {
	return `source:
  path: clouds/bunny.ply
initialTransform:
  rotationDeg: 45
  axis: [1, 0, 0]
  translation: [0.5, 0, 0]
icp:
  initialIterations: 3
  stepIterations: 2
  epsilonFitness: 1e-8
  epsilonTransform: 1e-9
  workers: 4
render:
  width: 800
  height: 600
mqtt:
  broker: tcp://localhost:1883
session:
  snapshotPath: /var/lib/icpstep/session.json
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "clouds", "bunny.ply"), cfg.Source.Path)
	assert.True(t, cfg.Target.IsZero())
	assert.Equal(t, cfg.Source, cfg.TargetSource())

	assert.Equal(t, 45.0, cfg.InitialTransform.RotationDeg)
	assert.Equal(t, [3]float64{1, 0, 0}, cfg.InitialTransform.Axis)
	assert.Equal(t, uint(3), cfg.ICP.InitialIterations)
	assert.Equal(t, uint(2), cfg.ICP.StepIterations)
	assert.Equal(t, 1e-8, cfg.ICP.EpsilonFitness)
	assert.Equal(t, 1e-9, cfg.ICP.EpsilonTransform)
	assert.Equal(t, 4, cfg.ICP.Workers)
	assert.Equal(t, 800, cfg.Render.Width)
	assert.Equal(t, 600, cfg.Render.Height)
	assert.Equal(t, "/var/lib/icpstep/session.json", cfg.Session.SnapshotPath)

	// untouched fields keep their defaults
	assert.Equal(t, 2, cfg.Render.PointSize)
	assert.Equal(t, "icpstep", cfg.MQTT.PublishPrefix)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestLoadConfig_AbsoluteAndURLSources(t *testing.T) {
	path := writeConfig(t, "source:\n  path: /data/a.ply\ntarget:\n  url: http://example.com/b.xyz\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/a.ply", cfg.Source.Path)
	assert.Equal(t, SourceConfig{URL: "http://example.com/b.xyz"}, cfg.TargetSource())
	assert.Equal(t, "http://example.com/b.xyz", cfg.Target.String())
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "source: [unclosed\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Fatalf("expected YAML error, got %v", err)
	}
}

func TestLoadConfig_ValidationFails(t *testing.T) {
	path := writeConfig(t, "render:\n  width: 100\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "source.path or source.url is required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no source", func(c *Config) { c.Source = SourceConfig{} }, "source.path or source.url is required"},
		{"source both", func(c *Config) { c.Source.URL = "http://x/a.ply" }, "source: set either path or url"},
		{"target both", func(c *Config) { c.Target = SourceConfig{Path: "a.ply", URL: "http://x/a.ply"} }, "target: set either path or url"},
		{"zero axis", func(c *Config) { c.InitialTransform.Axis = [3]float64{} }, "axis must be non-zero"},
		{"zero axis without rotation", func(c *Config) {
			c.InitialTransform.Axis = [3]float64{}
			c.InitialTransform.RotationDeg = 0
		}, ""},
		{"no step iterations", func(c *Config) { c.ICP.StepIterations = 0 }, "stepIterations must be at least 1"},
		{"negative epsilon", func(c *Config) { c.ICP.EpsilonTransform = -1 }, "epsilons must not be negative"},
		{"negative divergence", func(c *Config) { c.ICP.DivergenceFactor = -2 }, "divergenceFactor"},
		{"percentile above one", func(c *Config) { c.ICP.OutlierPercentile = 1.5 }, "outlierPercentile"},
		{"qos above two", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"qos two", func(c *Config) { c.MQTT.QoS = 2 }, ""},
		{"zero width", func(c *Config) { c.Render.Width = 0 }, "render.width"},
		{"background above one", func(c *Config) { c.Render.Background = 2 }, "render.background"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Source.Path = "bunny.ply"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// ---------------------------------------------------------------------------
// Environment overrides
// ---------------------------------------------------------------------------

func TestApplyEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_CLIENT_ID", "env-client")
	t.Setenv("MQTT_USERNAME", "user")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_PUBLISH_PREFIX", "lab/icp/")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, MQTTConfig{
		Broker:        "tcp://broker:1883",
		PublishPrefix: "lab/icp",
		ClientID:      "env-client",
		Username:      "user",
		Password:      "secret",
	}, cfg.MQTT)
}

func TestApplyEnv_UnsetKeepsConfig(t *testing.T) {
	for _, key := range []string{"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_PUBLISH_PREFIX"} {
		t.Setenv(key, "")
	}

	cfg := DefaultConfig()
	cfg.MQTT.Broker = "tcp://from-file:1883"
	cfg.ApplyEnv()

	assert.Equal(t, "tcp://from-file:1883", cfg.MQTT.Broker)
	assert.Equal(t, "icpstep", cfg.MQTT.ClientID)
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

func TestInitialTransformConfig_Transform(t *testing.T) {
	// the classic demo: pi/8 about Z, then shift by (1, 2, 4)
	m := DefaultConfig().InitialTransform.Transform()

	c, s := math.Cos(math.Pi/8), math.Sin(math.Pi/8)
	got := m.Apply(registration.Point{X: 1})
	assert.InDelta(t, c+1, got.X, 1e-12)
	assert.InDelta(t, s+2, got.Y, 1e-12)
	assert.InDelta(t, 4, got.Z, 1e-12)
	assert.True(t, m.IsRigid(1e-12))
}

func TestICPConfig_EngineOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  ICPConfig
		want int
	}{
		{"defaults", ICPConfig{}, 2},
		{"workers", ICPConfig{Workers: 2}, 3},
		{"distance rejector", ICPConfig{MaxCorrespondenceDistance: 0.5}, 3},
		{"percentile rejector", ICPConfig{OutlierPercentile: 0.9}, 3},
		{"distance wins over percentile", ICPConfig{MaxCorrespondenceDistance: 0.5, OutlierPercentile: 0.9}, 3},
		{"percentile of one disables", ICPConfig{OutlierPercentile: 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.cfg.EngineOptions(), tt.want)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Path = "/abs/bunny.ply"
	cfg.ICP.DivergenceFactor = 3
	cfg.Render.CameraPosition = [3]float64{0, 0, 10}

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
