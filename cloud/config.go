// Package cloud holds everything around the registration engine: point cloud
// sources, configuration, the two-viewport viewer, the stepping session and
// its MQTT transport.
package cloud

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/kwv/icpstep/registration"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration (config.yaml).
type Config struct {
	Source           SourceConfig           `yaml:"source" json:"source"`
	Target           SourceConfig           `yaml:"target,omitempty" json:"target,omitempty"` // defaults to Source
	InitialTransform InitialTransformConfig `yaml:"initialTransform" json:"initialTransform"`
	ICP              ICPConfig              `yaml:"icp" json:"icp"`
	Render           RenderConfig           `yaml:"render" json:"render"`
	MQTT             MQTTConfig             `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	HTTP             HTTPConfig             `yaml:"http,omitempty" json:"http,omitempty"`
	Session          SessionConfig          `yaml:"session,omitempty" json:"session,omitempty"`
}

// SourceConfig names where a point cloud comes from: a local file or a URL.
type SourceConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
}

// IsZero reports whether no source is configured.
func (s SourceConfig) IsZero() bool { return s.Path == "" && s.URL == "" }

// String returns the path or URL.
func (s SourceConfig) String() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// InitialTransformConfig is the transform applied to the input cloud to
// produce the registration source.
type InitialTransformConfig struct {
	RotationDeg float64    `yaml:"rotationDeg" json:"rotationDeg"`
	Axis        [3]float64 `yaml:"axis,flow" json:"axis"`
	Translation [3]float64 `yaml:"translation,flow" json:"translation"`
}

// Transform builds the rigid transform: rotate about Axis, then translate.
func (c InitialTransformConfig) Transform() registration.RigidTransform {
	axis := registration.Point{X: c.Axis[0], Y: c.Axis[1], Z: c.Axis[2]}
	rot := registration.RotationAboutAxis(axis, c.RotationDeg*math.Pi/180)
	shift := registration.Translation(c.Translation[0], c.Translation[1], c.Translation[2])
	return registration.Compose(shift, rot)
}

// ICPConfig holds the iteration budget and convergence thresholds.
type ICPConfig struct {
	InitialIterations         uint    `yaml:"initialIterations" json:"initialIterations"`
	StepIterations            uint    `yaml:"stepIterations" json:"stepIterations"`
	EpsilonFitness            float64 `yaml:"epsilonFitness" json:"epsilonFitness"`
	EpsilonTransform          float64 `yaml:"epsilonTransform" json:"epsilonTransform"`
	DivergenceFactor          float64 `yaml:"divergenceFactor,omitempty" json:"divergenceFactor,omitempty"`
	StrictConvergence         bool    `yaml:"strictConvergence,omitempty" json:"strictConvergence,omitempty"`
	Workers                   int     `yaml:"workers,omitempty" json:"workers,omitempty"` // 0 = one per CPU
	MaxCorrespondenceDistance float64 `yaml:"maxCorrespondenceDistance,omitempty" json:"maxCorrespondenceDistance,omitempty"`
	OutlierPercentile         float64 `yaml:"outlierPercentile,omitempty" json:"outlierPercentile,omitempty"`
}

// EngineOptions translates the config into registration engine options.
func (c ICPConfig) EngineOptions() []registration.Option {
	opts := []registration.Option{
		registration.WithDivergenceFactor(c.DivergenceFactor),
		registration.WithStrictConvergence(c.StrictConvergence),
	}
	if c.Workers > 0 {
		opts = append(opts, registration.WithWorkers(c.Workers))
	}
	switch {
	case c.MaxCorrespondenceDistance > 0:
		opts = append(opts, registration.WithRejector(registration.DistanceRejector{MaxDistance: c.MaxCorrespondenceDistance}))
	case c.OutlierPercentile > 0 && c.OutlierPercentile < 1:
		opts = append(opts, registration.WithRejector(registration.PercentileRejector{Percentile: c.OutlierPercentile}))
	}
	return opts
}

// RenderConfig controls the viewer output.
type RenderConfig struct {
	Width      int     `yaml:"width" json:"width"`
	Height     int     `yaml:"height" json:"height"`
	Background float64 `yaml:"background" json:"background"` // gray level, 0 = black, 1 = white
	PointSize  int     `yaml:"pointSize" json:"pointSize"`
	// CameraPosition and ViewUp default to the classic demo camera when zero.
	CameraPosition [3]float64 `yaml:"cameraPosition,flow,omitempty" json:"cameraPosition,omitempty"`
	ViewUp         [3]float64 `yaml:"viewUp,flow,omitempty" json:"viewUp,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	QoS           byte   `yaml:"qos,omitempty" json:"qos,omitempty"`
	// Retain defaults to true so late subscribers see the latest step.
	Retain *bool `yaml:"retain,omitempty" json:"retain,omitempty"`
}

// HTTPConfig holds the HTTP server settings.
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	SnapshotPath string `yaml:"snapshotPath,omitempty" json:"snapshotPath,omitempty"`
}

// DefaultConfig returns the configuration of the classic demo: the cloud is
// rotated by pi/8 about Z and shifted by (1, 2, 4), then registered back onto
// itself one iteration per step.
func DefaultConfig() *Config {
	return &Config{
		InitialTransform: InitialTransformConfig{
			RotationDeg: 22.5,
			Axis:        [3]float64{0, 0, 1},
			Translation: [3]float64{1, 2, 4},
		},
		ICP: ICPConfig{
			InitialIterations: 1,
			StepIterations:    1,
			EpsilonFitness:    1e-6,
			EpsilonTransform:  1e-6,
		},
		Render: RenderConfig{
			Width:      1280,
			Height:     1024,
			Background: 0,
			PointSize:  2,
		},
		MQTT: MQTTConfig{
			PublishPrefix: "icpstep",
			ClientID:      "icpstep",
		},
		HTTP: HTTPConfig{Port: 8080},
	}
}

// LoadConfig loads the configuration from a YAML file. Fields missing from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Relative cloud paths are resolved against the config file's directory
	dir := filepath.Dir(path)
	config.Source.Path = resolvePath(dir, config.Source.Path)
	config.Target.Path = resolvePath(dir, config.Target.Path)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks the configuration for values the session cannot run with.
func (c *Config) Validate() error {
	if c.Source.IsZero() {
		return fmt.Errorf("source.path or source.url is required")
	}
	if c.Source.Path != "" && c.Source.URL != "" {
		return fmt.Errorf("source: set either path or url, not both")
	}
	if c.Target.Path != "" && c.Target.URL != "" {
		return fmt.Errorf("target: set either path or url, not both")
	}
	if c.InitialTransform.RotationDeg != 0 && c.InitialTransform.Axis == [3]float64{} {
		return fmt.Errorf("initialTransform.axis must be non-zero when rotationDeg is set")
	}
	if c.ICP.StepIterations == 0 {
		return fmt.Errorf("icp.stepIterations must be at least 1")
	}
	if c.ICP.EpsilonFitness < 0 || c.ICP.EpsilonTransform < 0 {
		return fmt.Errorf("icp epsilons must not be negative")
	}
	if c.ICP.DivergenceFactor < 0 {
		return fmt.Errorf("icp.divergenceFactor must not be negative")
	}
	if c.ICP.OutlierPercentile < 0 || c.ICP.OutlierPercentile > 1 {
		return fmt.Errorf("icp.outlierPercentile must be within [0, 1]")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render.width and render.height must be positive")
	}
	if c.Render.Background < 0 || c.Render.Background > 1 {
		return fmt.Errorf("render.background must be within [0, 1]")
	}
	return nil
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		c.MQTT.PublishPrefix = strings.TrimSuffix(v, "/")
	}
}

// TargetSource returns the target cloud location, falling back to the source.
func (c *Config) TargetSource() SourceConfig {
	if c.Target.IsZero() {
		return c.Source
	}
	return c.Target
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
