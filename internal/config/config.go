package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

type Config struct {
	Port int `env:"PORT" envDefault:"5001"`

	UploadDirectory string        `env:"UPLOAD_DIR"      envDefault:"./temp_uploads"`
	UploadTTL       time.Duration `env:"UPLOAD_TTL"      envDefault:"1h"`  // Orphaned uploads older than this are swept
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"  envDefault:"10m"` // How often the sweeper runs
	MaxUploadSize   string        `env:"MAX_UPLOAD_SIZE" envDefault:"512MB"`
	MultipartMemory string        `env:"MULTIPART_MEMORY" envDefault:"32MB"`

	FrameLimit             int           `env:"FRAME_LIMIT"              envDefault:"150"` // Frames examined per video
	MaxFrameLimit          int           `env:"MAX_FRAME_LIMIT"          envDefault:"600"` // Upper bound for a per-request frame_limit
	TargetLabel            string        `env:"TARGET_LABEL"             envDefault:"person"`
	DetectionFailurePolicy string        `env:"DETECTION_FAILURE_POLICY" envDefault:"abort"` // abort | skip
	RunTimeout             time.Duration `env:"RUN_TIMEOUT"              envDefault:"2m"`
	MaxConcurrentRuns      int           `env:"MAX_CONCURRENT_RUNS"      envDefault:"4"`
	QueueTimeout           time.Duration `env:"QUEUE_TIMEOUT"            envDefault:"30s"`

	DecoderBackend string `env:"DECODER_BACKEND" envDefault:"gocv"` // gocv | ffmpeg

	ModelFormat         string  `env:"MODEL_FORMAT"         envDefault:"ssd"` // ssd | yolov5
	ModelPath           string  `env:"MODEL_PATH"`
	ConfigPath          string  `env:"CONFIG_PATH"`
	LabelsPath          string  `env:"LABELS_PATH"`
	ConfidenceThreshold float64 `env:"CONFIDENCE_THRESHOLD" envDefault:"0.5"`
	NMSThreshold        float64 `env:"NMS_THRESHOLD"        envDefault:"0.45"`
	DetectorPoolSize    int     `env:"DETECTOR_POOL_SIZE"   envDefault:"2"` // Independently loaded networks

	ModelStore ModelStoreConfig `envPrefix:"MODEL_STORE_"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/runs.db"`
	LogDirectory string `env:"LOG_DIR"       envDefault:"./logs"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`

	MetricsPort     int    `env:"METRICS_PORT"     envDefault:"9091"`
	TracingEndpoint string `env:"TRACING_ENDPOINT"`

	AMQPURL        string `env:"AMQP_URL"`
	AMQPExchange   string `env:"AMQP_EXCHANGE"    envDefault:"headcount"`
	AMQPRoutingKey string `env:"AMQP_ROUTING_KEY" envDefault:"headcount.result"`
}

// ModelStoreConfig points at an S3-compatible bucket holding the network files.
// An empty Endpoint disables fetching.
type ModelStoreConfig struct {
	Endpoint     string `env:"ENDPOINT"`
	Bucket       string `env:"BUCKET"      envDefault:"models"`
	AccessKey    string `env:"ACCESS_KEY"`
	SecretKey    string `env:"SECRET_KEY"`
	UseSSL       bool   `env:"USE_SSL"     envDefault:"false"`
	ModelObject  string `env:"MODEL_OBJECT"`
	ConfigObject string `env:"CONFIG_OBJECT"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applyModelDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyModelDefaults fills network file paths for the chosen model format.
func (c *Config) applyModelDefaults() {
	modelDir := filepath.Join(".", "models")
	switch c.ModelFormat {
	case "yolov5":
		if c.ModelPath == "" {
			c.ModelPath = filepath.Join(modelDir, "yolov5n.onnx")
		}
	default:
		if c.ModelPath == "" {
			c.ModelPath = filepath.Join(modelDir, "frozen_inference_graph.pb")
		}
		if c.ConfigPath == "" {
			c.ConfigPath = filepath.Join(modelDir, "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")
		}
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.FrameLimit <= 0 {
		errs = append(errs, fmt.Errorf("FRAME_LIMIT must be positive: %d", c.FrameLimit))
	}
	if c.MaxFrameLimit < c.FrameLimit {
		errs = append(errs, fmt.Errorf("MAX_FRAME_LIMIT (%d) below FRAME_LIMIT (%d)", c.MaxFrameLimit, c.FrameLimit))
	}
	if c.TargetLabel == "" {
		errs = append(errs, errors.New("TARGET_LABEL must not be empty"))
	}
	switch c.DetectionFailurePolicy {
	case "abort", "skip":
	default:
		errs = append(errs, fmt.Errorf("DETECTION_FAILURE_POLICY must be abort or skip: %q", c.DetectionFailurePolicy))
	}
	switch c.DecoderBackend {
	case "gocv", "ffmpeg":
	default:
		errs = append(errs, fmt.Errorf("DECODER_BACKEND must be gocv or ffmpeg: %q", c.DecoderBackend))
	}
	switch c.ModelFormat {
	case "ssd", "yolov5":
	default:
		errs = append(errs, fmt.Errorf("MODEL_FORMAT must be ssd or yolov5: %q", c.ModelFormat))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1]: %v", c.ConfidenceThreshold))
	}
	if c.DetectorPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("DETECTOR_POOL_SIZE must be positive: %d", c.DetectorPoolSize))
	}
	if c.MaxConcurrentRuns <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_RUNS must be positive: %d", c.MaxConcurrentRuns))
	}
	if _, err := units.RAMInBytes(c.MaxUploadSize); err != nil {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err))
	}
	if _, err := units.RAMInBytes(c.MultipartMemory); err != nil {
		errs = append(errs, fmt.Errorf("MULTIPART_MEMORY: %w", err))
	}

	return errors.Join(errs...)
}

// MaxUploadBytes is MaxUploadSize in bytes.
func (c *Config) MaxUploadBytes() int64 {
	n, err := units.RAMInBytes(c.MaxUploadSize)
	if err != nil {
		return 0
	}
	return n
}

// MultipartMemoryBytes is MultipartMemory in bytes.
func (c *Config) MultipartMemoryBytes() int64 {
	n, err := units.RAMInBytes(c.MultipartMemory)
	if err != nil {
		return 32 << 20
	}
	return n
}
