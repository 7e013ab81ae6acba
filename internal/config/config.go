// Package config loads the supervisor's TOML configuration file and applies
// WASMIOT_-prefixed environment overrides, following anthdm-ffaas's
// config.Parse/config.Get singleton shape.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the supervisor process's static configuration.
type Config struct {
	// ListenAddr is the address the HTTP API listens on.
	ListenAddr string `toml:"listen_addr"`
	// InstanceDir is the root directory deployments, module binaries and
	// mount files live under.
	InstanceDir string `toml:"instance_dir"`
	// OrchestratorURL, when set, is where log records are forwarded (to its
	// /device/logs path), mirroring WASMIOT_ORCHESTRATOR_URL.
	OrchestratorURL string `toml:"orchestrator_url"`
	// DeviceName identifies this device in logs and the device description
	// endpoint.
	DeviceName string `toml:"device_name"`
	// QueueBuffer bounds how many pending invocations the work queue holds
	// before Enqueue blocks.
	QueueBuffer int `toml:"queue_buffer"`
	// SubCallTimeoutSeconds bounds how long a chained sub-call may take.
	SubCallTimeoutSeconds int `toml:"sub_call_timeout_seconds"`
	// CameraFixturePath is the still image served when no camera is
	// attached.
	CameraFixturePath string `toml:"camera_fixture_path"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		InstanceDir:           "instance",
		QueueBuffer:           32,
		SubCallTimeoutSeconds: 30,
		CameraFixturePath:     "fakeWebcam.jpg",
	}
}

var current Config

// Parse decodes path as TOML into the package-level Config, then applies any
// WASMIOT_-prefixed environment overrides.
func Parse(path string) error {
	cfg := defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return err
			}
		}
	}
	applyEnv(&cfg)
	current = cfg
	return nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("WASMIOT_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("WASMIOT_INSTANCE_DIR"); ok {
		cfg.InstanceDir = v
	}
	if v, ok := os.LookupEnv("WASMIOT_ORCHESTRATOR_URL"); ok {
		cfg.OrchestratorURL = v
	}
	if v, ok := os.LookupEnv("WASMIOT_DEVICE_NAME"); ok {
		cfg.DeviceName = v
	}
	if v, ok := os.LookupEnv("WASMIOT_QUEUE_BUFFER"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueBuffer = n
		}
	}
	if v, ok := os.LookupEnv("WASMIOT_SUB_CALL_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubCallTimeoutSeconds = n
		}
	}
	if v, ok := os.LookupEnv("WASMIOT_CAMERA_FIXTURE_PATH"); ok {
		cfg.CameraFixturePath = v
	}
}

// Get returns the currently parsed configuration, or defaults if Parse was
// never called.
func Get() Config {
	if current.ListenAddr == "" {
		return defaults()
	}
	return current
}
