// Package config loads the counter configuration from JSON or YAML files and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/footfall.report/internal/zone"
)

// Defaults for fields left unset.
const (
	DefaultListen        = "127.0.0.1:8000"
	DefaultVideo         = "walking.mp4"
	DefaultFrameInterval = 33 * time.Millisecond
	DefaultTraceCapacity = 600
	DefaultMinVisibility = 0
	DefaultMQTTTopic     = "footfall/events"
	DefaultKafkaTopic    = "footfall-events"
	DefaultWorkerTimeout = 2 * time.Second
	DefaultWorkerCommand = "python3"
	DefaultWorkerScript  = "scripts/pose_worker.py"
	DefaultWorkerBackoff = time.Second
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// CounterConfig is the file schema. Every field is optional; the Get*
// methods supply defaults for anything omitted.
type CounterConfig struct {
	Listen        *string  `json:"listen,omitempty" yaml:"listen,omitempty"`
	Video         *string  `json:"video,omitempty" yaml:"video,omitempty"`
	Database      *string  `json:"database,omitempty" yaml:"database,omitempty"`
	LeftLineX     *float64 `json:"left_line_x,omitempty" yaml:"left_line_x,omitempty"`
	RightLineX    *float64 `json:"right_line_x,omitempty" yaml:"right_line_x,omitempty"`
	FrameInterval *string  `json:"frame_interval,omitempty" yaml:"frame_interval,omitempty"` // duration string like "33ms"
	MinVisibility *float64 `json:"min_visibility,omitempty" yaml:"min_visibility,omitempty"`
	TraceCapacity *int     `json:"trace_capacity,omitempty" yaml:"trace_capacity,omitempty"`

	PoseWorker *WorkerConfig `json:"pose_worker,omitempty" yaml:"pose_worker,omitempty"`
	MQTT       *MQTTConfig   `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Kafka      *KafkaConfig  `json:"kafka,omitempty" yaml:"kafka,omitempty"`
}

// WorkerConfig starts the pose worker subprocess.
type WorkerConfig struct {
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Timeout string   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// RestartBackoff is the minimum gap between respawns of a dead worker.
	RestartBackoff string `json:"restart_backoff,omitempty" yaml:"restart_backoff,omitempty"`
	// MaxRestarts caps respawns; 0 means no limit.
	MaxRestarts int `json:"max_restarts,omitempty" yaml:"max_restarts,omitempty"`
}

// MQTTConfig enables the MQTT event publisher when Broker is set.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic,omitempty" yaml:"topic,omitempty"`
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"-" yaml:"-"`
	QoS      byte   `json:"qos,omitempty" yaml:"qos,omitempty"`
}

// KafkaConfig enables the Kafka event publisher when BootstrapServers is set.
type KafkaConfig struct {
	BootstrapServers string `json:"bootstrap_servers" yaml:"bootstrap_servers"`
	Topic            string `json:"topic,omitempty" yaml:"topic,omitempty"`
	SecurityProtocol string `json:"security_protocol,omitempty" yaml:"security_protocol,omitempty"`
	SASLMechanism    string `json:"sasl_mechanism,omitempty" yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string `json:"sasl_username,omitempty" yaml:"sasl_username,omitempty"`
	SASLPassword     string `json:"-" yaml:"-"`
}

// LoadConfig loads a CounterConfig from a .json, .yaml or .yml file. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*CounterConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &CounterConfig{}
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Missing files are skipped; existing variables win.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv fills broker settings and secrets from FOOTFALL_* variables.
// Secrets are only ever read from the environment.
func (c *CounterConfig) ApplyEnv() {
	if broker := getEnv("FOOTFALL_MQTT_BROKER", ""); broker != "" {
		if c.MQTT == nil {
			c.MQTT = &MQTTConfig{}
		}
		c.MQTT.Broker = broker
	}
	if c.MQTT != nil {
		c.MQTT.Topic = getEnv("FOOTFALL_MQTT_TOPIC", c.MQTT.Topic)
		c.MQTT.Username = getEnv("FOOTFALL_MQTT_USERNAME", c.MQTT.Username)
		c.MQTT.Password = getEnv("FOOTFALL_MQTT_PASSWORD", c.MQTT.Password)
	}

	if servers := getEnv("FOOTFALL_KAFKA_BOOTSTRAP_SERVERS", ""); servers != "" {
		if c.Kafka == nil {
			c.Kafka = &KafkaConfig{}
		}
		c.Kafka.BootstrapServers = servers
	}
	if c.Kafka != nil {
		c.Kafka.Topic = getEnv("FOOTFALL_KAFKA_TOPIC", c.Kafka.Topic)
		c.Kafka.SecurityProtocol = getEnv("FOOTFALL_KAFKA_SECURITY_PROTOCOL", c.Kafka.SecurityProtocol)
		c.Kafka.SASLMechanism = getEnv("FOOTFALL_KAFKA_SASL_MECHANISM", c.Kafka.SASLMechanism)
		c.Kafka.SASLUsername = getEnv("FOOTFALL_KAFKA_SASL_USERNAME", c.Kafka.SASLUsername)
		c.Kafka.SASLPassword = getEnv("FOOTFALL_KAFKA_SASL_PASSWORD", c.Kafka.SASLPassword)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks that the configuration values are usable.
func (c *CounterConfig) Validate() error {
	if err := c.GetCorridor().Validate(); err != nil {
		return err
	}
	if c.FrameInterval != nil && *c.FrameInterval != "" {
		d, err := time.ParseDuration(*c.FrameInterval)
		if err != nil {
			return fmt.Errorf("invalid frame_interval '%s': %w", *c.FrameInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("frame_interval must be positive, got %s", d)
		}
	}
	if c.MinVisibility != nil && (*c.MinVisibility < 0 || *c.MinVisibility > 1) {
		return fmt.Errorf("min_visibility must be between 0 and 1, got %f", *c.MinVisibility)
	}
	if c.TraceCapacity != nil && *c.TraceCapacity < 0 {
		return fmt.Errorf("trace_capacity must not be negative, got %d", *c.TraceCapacity)
	}
	if c.PoseWorker != nil {
		if c.PoseWorker.Command == "" {
			return fmt.Errorf("pose_worker.command is required when pose_worker is set")
		}
		if c.PoseWorker.Timeout != "" {
			if _, err := time.ParseDuration(c.PoseWorker.Timeout); err != nil {
				return fmt.Errorf("invalid pose_worker.timeout '%s': %w", c.PoseWorker.Timeout, err)
			}
		}
		if c.PoseWorker.RestartBackoff != "" {
			if _, err := time.ParseDuration(c.PoseWorker.RestartBackoff); err != nil {
				return fmt.Errorf("invalid pose_worker.restart_backoff '%s': %w", c.PoseWorker.RestartBackoff, err)
			}
		}
		if c.PoseWorker.MaxRestarts < 0 {
			return fmt.Errorf("pose_worker.max_restarts must not be negative, got %d", c.PoseWorker.MaxRestarts)
		}
	}
	if c.MQTT != nil && c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// GetListen returns the HTTP listen address.
func (c *CounterConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

// GetVideo returns the video file path or device index.
func (c *CounterConfig) GetVideo() string {
	if c.Video == nil || *c.Video == "" {
		return DefaultVideo
	}
	return *c.Video
}

// GetDatabase returns the crossing log path. Empty disables the log.
func (c *CounterConfig) GetDatabase() string {
	if c.Database == nil {
		return ""
	}
	return *c.Database
}

// GetCorridor returns the configured corridor, defaulting each line
// separately.
func (c *CounterConfig) GetCorridor() zone.Corridor {
	corridor := zone.DefaultCorridor()
	if c.LeftLineX != nil {
		corridor.Left = *c.LeftLineX
	}
	if c.RightLineX != nil {
		corridor.Right = *c.RightLineX
	}
	return corridor
}

// GetFrameInterval parses and returns the pump pacing interval.
func (c *CounterConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return DefaultFrameInterval
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil || d <= 0 {
		return DefaultFrameInterval
	}
	return d
}

// GetMinVisibility returns the nose visibility threshold. The default of 0
// accepts every nose the worker reports.
func (c *CounterConfig) GetMinVisibility() float64 {
	if c.MinVisibility == nil {
		return DefaultMinVisibility
	}
	return *c.MinVisibility
}

// GetTraceCapacity returns how many recent positions the trace keeps.
func (c *CounterConfig) GetTraceCapacity() int {
	if c.TraceCapacity == nil {
		return DefaultTraceCapacity
	}
	return *c.TraceCapacity
}

// GetWorkerTimeout returns the pose worker round trip timeout.
func (c *CounterConfig) GetWorkerTimeout() time.Duration {
	if c.PoseWorker == nil || c.PoseWorker.Timeout == "" {
		return DefaultWorkerTimeout
	}
	d, err := time.ParseDuration(c.PoseWorker.Timeout)
	if err != nil {
		return DefaultWorkerTimeout
	}
	return d
}

// GetWorkerRestartBackoff returns the minimum gap between worker respawns.
func (c *CounterConfig) GetWorkerRestartBackoff() time.Duration {
	if c.PoseWorker == nil || c.PoseWorker.RestartBackoff == "" {
		return DefaultWorkerBackoff
	}
	d, err := time.ParseDuration(c.PoseWorker.RestartBackoff)
	if err != nil || d < 0 {
		return DefaultWorkerBackoff
	}
	return d
}

// GetPoseWorker returns the worker command line. Without a pose_worker
// section it runs DefaultWorkerScript with DefaultWorkerCommand.
func (c *CounterConfig) GetPoseWorker() WorkerConfig {
	if c.PoseWorker == nil {
		return WorkerConfig{Command: DefaultWorkerCommand, Args: []string{DefaultWorkerScript}}
	}
	return *c.PoseWorker
}

// GetMQTTTopic returns the MQTT topic.
func (c *CounterConfig) GetMQTTTopic() string {
	if c.MQTT == nil || c.MQTT.Topic == "" {
		return DefaultMQTTTopic
	}
	return c.MQTT.Topic
}

// GetKafkaTopic returns the Kafka topic.
func (c *CounterConfig) GetKafkaTopic() string {
	if c.Kafka == nil || c.Kafka.Topic == "" {
		return DefaultKafkaTopic
	}
	return c.Kafka.Topic
}

// Summary is the JSON view served at /api/config. It never includes
// credentials.
type Summary struct {
	LeftLineX       float64 `json:"left_line_x"`
	RightLineX      float64 `json:"right_line_x"`
	FrameIntervalMS int64   `json:"frame_interval_ms"`
	Video           string  `json:"video"`
	Database        bool    `json:"database"`
	PoseWorker      bool    `json:"pose_worker"`
	MQTT            bool    `json:"mqtt"`
	Kafka           bool    `json:"kafka"`
}

// Summary returns the public view of the effective configuration.
func (c *CounterConfig) Summary() Summary {
	corridor := c.GetCorridor()
	return Summary{
		LeftLineX:       corridor.Left,
		RightLineX:      corridor.Right,
		FrameIntervalMS: c.GetFrameInterval().Milliseconds(),
		Video:           c.GetVideo(),
		Database:        c.GetDatabase() != "",
		PoseWorker:      c.PoseWorker != nil,
		MQTT:            c.MQTT != nil && c.MQTT.Broker != "",
		Kafka:           c.Kafka != nil && c.Kafka.BootstrapServers != "",
	}
}
