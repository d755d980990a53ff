// Package config gathers every environment variable the orchestration core
// consumes into one value at process start (spec §9's constructor-injection
// redesign note), handed to the Job Manager and Task Store constructors.
// Built on internal/platform/envutil's helpers, extended here with
// Duration/Bool/String.
package config

import (
	"time"

	"github.com/yungbote/mediapipe-orchestrator/internal/clients/cache"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/envutil"
)

// WorkerConfig is one {endpoint_id, api_key, base_url} triple for a single
// worker kind. An empty EndpointID means the stage is unconfigured.
type WorkerConfig struct {
	EndpointID string
	APIKey     string
	BaseURL    string
}

func (w WorkerConfig) configured() bool {
	return w.EndpointID != "" && w.APIKey != "" && w.BaseURL != ""
}

// Config is every environment-sourced value the core consumes.
type Config struct {
	Sovits     WorkerConfig
	Wav2Lip    WorkerConfig
	FaceFusion WorkerConfig

	PollInterval time.Duration
	JobTimeout   time.Duration

	CacheAddr string
	CacheTLS  cache.TLSMode

	TaskPrefix string
	CacheTTL   time.Duration
	DiskDir    string
	DiskTTL    time.Duration

	HTTPAddr string
	LogMode  string
}

// Load reads the process environment into a Config. Missing worker triples
// disable that stage (spec §6); DiskTTL is clamped to at least CacheTTL.
func Load() Config {
	pollInterval := envutil.Duration("POLL_INTERVAL_SECONDS", 2*time.Second)
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	cacheTTL := envutil.Duration("TASK_CACHE_TTL_SECONDS", 7*24*time.Hour)
	diskTTL := envutil.Duration("TASK_DISK_TTL_SECONDS", cacheTTL)
	if diskTTL < cacheTTL {
		diskTTL = cacheTTL
	}

	return Config{
		Sovits: WorkerConfig{
			EndpointID: envutil.String("SOVITS_ENDPOINT_ID", ""),
			APIKey:     envutil.String("SOVITS_API_KEY", ""),
			BaseURL:    envutil.String("SOVITS_BASE_URL", ""),
		},
		Wav2Lip: WorkerConfig{
			EndpointID: envutil.String("WAV2LIP_ENDPOINT_ID", ""),
			APIKey:     envutil.String("WAV2LIP_API_KEY", ""),
			BaseURL:    envutil.String("WAV2LIP_BASE_URL", ""),
		},
		FaceFusion: WorkerConfig{
			EndpointID: envutil.String("FACEFUSION_ENDPOINT_ID", ""),
			APIKey:     envutil.String("FACEFUSION_API_KEY", ""),
			BaseURL:    envutil.String("FACEFUSION_BASE_URL", ""),
		},

		PollInterval: pollInterval,
		JobTimeout:   envutil.Duration("JOB_TIMEOUT_SECONDS", 10*time.Minute),

		CacheAddr: envutil.String("CACHE_ADDR", "localhost:6379"),
		CacheTLS:  cache.TLSMode(envutil.String("CACHE_TLS_MODE", string(cache.TLSDisable))),

		TaskPrefix: envutil.String("TASK_CACHE_PREFIX", "task"),
		CacheTTL:   cacheTTL,
		DiskDir:    envutil.String("TASK_DISK_DIR", "./data/tasks"),
		DiskTTL:    diskTTL,

		HTTPAddr: envutil.String("HTTP_ADDR", ":8080"),
		LogMode:  envutil.String("LOG_MODE", "development"),
	}
}

// Configured reports whether w has every field a Remote Job Client
// construction needs.
func Configured(w WorkerConfig) bool { return w.configured() }
