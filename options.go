package livetest

import (
	"fmt"
	"strings"
	"time"
)

// Option configures the harness.
type Option func(*Config) error

// Config holds the harness configuration.
type Config struct {
	// Server under test
	ServerURL      string        `yaml:"server_url"`
	KMPAddr        string        `yaml:"kmp_addr"`
	LogPath        string        `yaml:"log_path"`
	AccessLogPath  string        `yaml:"access_log_path"`
	ServerBinary   string        `yaml:"server_binary"`
	PIDFile        string        `yaml:"pid_file"`
	SourceDir      string        `yaml:"source_dir"`
	ConfFile       string        `yaml:"conf_file"`
	TempConfDir    string        `yaml:"temp_conf_dir"`
	StubPort       int           `yaml:"stub_port"`
	Store          StoreConfig   `yaml:"store"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`

	// Run modes
	ManageServer  bool `yaml:"manage_server"`
	Valgrind      bool `yaml:"valgrind"`
	SingleProcess bool `yaml:"single_process"`
	Coverage      bool `yaml:"coverage"`
	PauseBefore   bool `yaml:"-"`
	PauseAfter    bool `yaml:"-"`

	ValgrindBinary string   `yaml:"valgrind_binary"`
	ValgrindArgs   []string `yaml:"valgrind_args"`
	CoverageFile   string   `yaml:"coverage_file"`
	CoverageDir    string   `yaml:"coverage_dir"`

	// Phase delays
	SetupSettle    time.Duration `yaml:"setup_settle"`
	ValidateSettle time.Duration `yaml:"validate_settle"`

	// Media captures fed through the ingest port
	VideoCapture     string `yaml:"video_capture"`
	AudioCapture     string `yaml:"audio_capture"`
	HighVideoCapture string `yaml:"high_video_capture"`
	HighAudioCapture string `yaml:"high_audio_capture"`

	// Outputs
	MetricsFile string         `yaml:"metrics_file"`
	Artifacts   ArtifactConfig `yaml:"artifacts"`
}

// StoreConfig describes where the server under test persists channel state.
// Type is one of filesystem, s3, gcs or azure.
type StoreConfig struct {
	Type            string `yaml:"type"`
	Path            string `yaml:"path"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	AccountName     string `yaml:"account_name"`
	AccountKey      string `yaml:"account_key"`
	Container       string `yaml:"container"`
}

// ArtifactConfig enables uploading run artifacts to an S3 bucket.
type ArtifactConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Enabled reports whether artifact upload is configured.
func (a ArtifactConfig) Enabled() bool {
	return a.Bucket != ""
}

// ControlURL returns the control API root.
func (c *Config) ControlURL() string {
	return strings.TrimRight(c.ServerURL, "/") + "/control"
}

// WithServerURL sets the base URL of the server under test.
func WithServerURL(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("server URL must not be empty")
		}
		c.ServerURL = url
		return nil
	}
}

// WithKMPAddr sets the media ingest address.
func WithKMPAddr(addr string) Option {
	return func(c *Config) error {
		c.KMPAddr = addr
		return nil
	}
}

// WithLogPath sets the server error log path.
func WithLogPath(path string) Option {
	return func(c *Config) error {
		c.LogPath = path
		return nil
	}
}

// WithServerBinary sets the server executable and its pid file.
func WithServerBinary(binary, pidFile string) Option {
	return func(c *Config) error {
		c.ServerBinary = binary
		c.PIDFile = pidFile
		return nil
	}
}

// WithConfFile sets the base server configuration file.
func WithConfFile(path string) Option {
	return func(c *Config) error {
		c.ConfFile = path
		return nil
	}
}

// WithStore sets the persisted store location.
func WithStore(store StoreConfig) Option {
	return func(c *Config) error {
		c.Store = store
		return nil
	}
}

// WithStubPort sets the port the fault-injection stub listens on.
func WithStubPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid stub port %d", port)
		}
		c.StubPort = port
		return nil
	}
}

// WithValgrind runs the server under valgrind memcheck.
func WithValgrind() Option {
	return func(c *Config) error {
		c.Valgrind = true
		return nil
	}
}

// WithSingleProcess disables daemonization and the master process.
func WithSingleProcess() Option {
	return func(c *Config) error {
		c.SingleProcess = true
		return nil
	}
}

// WithCoverage collects an lcov report around the run.
func WithCoverage() Option {
	return func(c *Config) error {
		c.Coverage = true
		return nil
	}
}

// WithoutSetup runs against an already running server.
func WithoutSetup() Option {
	return func(c *Config) error {
		c.ManageServer = false
		return nil
	}
}

// WithTimeouts bounds server startup and shutdown.
func WithTimeouts(start, stop time.Duration) Option {
	return func(c *Config) error {
		if start <= 0 || stop <= 0 {
			return fmt.Errorf("timeouts must be positive")
		}
		c.StartTimeout = start
		c.StopTimeout = stop
		return nil
	}
}

// WithSettleDelays sets the pauses applied before the setup and validate restarts.
func WithSettleDelays(setup, validate time.Duration) Option {
	return func(c *Config) error {
		if setup < 0 || validate < 0 {
			return fmt.Errorf("settle delays must not be negative")
		}
		c.SetupSettle = setup
		c.ValidateSettle = validate
		return nil
	}
}

// WithMedia sets the recorded video and audio captures used by streaming scenarios.
func WithMedia(video, audio string) Option {
	return func(c *Config) error {
		c.VideoCapture = video
		c.AudioCapture = audio
		return nil
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:        "http://localhost:8001",
		KMPAddr:          "localhost:6543",
		LogPath:          "/var/log/nginx/error.log",
		AccessLogPath:    "/var/log/nginx/access.log",
		ServerBinary:     "/usr/local/nginx/sbin/nginx",
		PIDFile:          "/usr/local/nginx/logs/nginx.pid",
		SourceDir:        "/usr/local/src/nginx",
		ConfFile:         "nginx.conf",
		TempConfDir:      ".",
		StubPort:         8002,
		Store:            StoreConfig{Type: "filesystem", Path: "/tmp/store/channel"},
		StartTimeout:     30 * time.Second,
		StopTimeout:      30 * time.Second,
		HealthInterval:   100 * time.Millisecond,
		ManageServer:     true,
		ValgrindBinary:   "valgrind",
		ValgrindArgs:     []string{"-v", "--tool=memcheck", "--leak-check=yes", "--num-callers=128"},
		CoverageFile:     "/usr/local/src/nginx/coverage.info",
		CoverageDir:      "/usr/local/nginx/html/cov",
		SetupSettle:      2 * time.Second,
		ValidateSettle:   time.Second,
		VideoCapture:     "video1-v.kmp",
		AudioCapture:     "video1-a.kmp",
		HighVideoCapture: "video-high-v.kmp",
		HighAudioCapture: "video-high-a.kmp",
	}
}

// NewConfig builds a configuration from the defaults and the given options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.Apply(opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply applies options and re-validates the configuration.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return c.Validate()
}

// Validate normalizes dependent run modes and checks required fields.
func (c *Config) Validate() error {
	if !c.ManageServer {
		c.Valgrind = false
	}
	if c.Valgrind || c.Coverage {
		c.SingleProcess = true
	}

	if c.ServerURL == "" {
		return fmt.Errorf("%w: server URL is required", ErrInvalidConfig)
	}
	if c.LogPath == "" {
		return fmt.Errorf("%w: log path is required", ErrInvalidConfig)
	}
	if c.ManageServer {
		if c.ServerBinary == "" {
			return fmt.Errorf("%w: server binary is required", ErrInvalidConfig)
		}
		if c.ConfFile == "" {
			return fmt.Errorf("%w: configuration file is required", ErrInvalidConfig)
		}
		if !c.SingleProcess && c.PIDFile == "" {
			return fmt.Errorf("%w: pid file is required unless running single-process", ErrInvalidConfig)
		}
	}
	if c.StartTimeout <= 0 || c.StopTimeout <= 0 {
		return fmt.Errorf("%w: start and stop timeouts must be positive", ErrInvalidConfig)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("%w: health interval must be positive", ErrInvalidConfig)
	}
	return nil
}
