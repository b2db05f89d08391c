// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	AllowedOrigins  []string
	Store           StoreConfig
	UploadDir       string
	MaxUploadBytes  int64
	Pose            PoseConfig
	Sidecar         SidecarConfig
	FrameStride     int
	LegacyStride    int // stride used by /api/analyze
	DefaultLanguage string
	Retention       RetentionConfig
	ShutdownTimeout time.Duration
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string // memory, sqlite, postgres, mysql
	DSN     string
}

// PoseConfig points at the pose estimation service.
type PoseConfig struct {
	Addr string
	// PathPrefix is where UploadDir is visible inside the pose service.
	// Empty means both sides share the same paths.
	PathPrefix             string
	ModelComplexity        int
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
	ConnectTimeout         time.Duration
}

// SidecarConfig controls the optional Docker-managed pose container.
type SidecarConfig struct {
	Image      string
	Name       string
	Network    string
	Port       int
	Runtime    string // "" = default (runc), "runsc" = gVisor
	MountPath  string
	StopOnExit bool
}

// Enabled reports whether the server should manage the pose container.
func (s SidecarConfig) Enabled() bool {
	return s.Image != ""
}

// RetentionConfig controls the cleanup worker.
type RetentionConfig struct {
	AnalysisTTL      time.Duration
	UploadStaleAfter time.Duration
	Interval         time.Duration
}

var validBackends = []string{"memory", "sqlite", "postgres", "mysql"}

const defaultOrigins = "http://localhost:3000,http://localhost:5173,http://127.0.0.1:3000,http://127.0.0.1:5173"

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
			DSN:     getEnv("DB_DSN", "./data/formtrack.db"),
		},
		UploadDir:      getEnv("UPLOAD_DIR", "./data/uploads"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 200<<20)),
		Pose: PoseConfig{
			Addr:                   getEnv("POSE_SERVICE_ADDR", ""),
			PathPrefix:             getEnv("POSE_PATH_PREFIX", ""),
			ModelComplexity:        getEnvInt("MODEL_COMPLEXITY", 1),
			MinDetectionConfidence: getEnvFloat("MIN_DETECTION_CONFIDENCE", 0.5),
			MinTrackingConfidence:  getEnvFloat("MIN_TRACKING_CONFIDENCE", 0.5),
			ConnectTimeout:         getEnvDuration("POSE_CONNECT_TIMEOUT", 30*time.Second),
		},
		Sidecar: SidecarConfig{
			Image:      getEnv("POSE_SIDECAR_IMAGE", ""),
			Name:       getEnv("POSE_SIDECAR_NAME", "formtrack-pose"),
			Network:    getEnv("POSE_SIDECAR_NETWORK", "formtrack-net"),
			Port:       getEnvInt("POSE_SIDECAR_PORT", 50061),
			Runtime:    getEnv("POSE_SIDECAR_RUNTIME", ""),
			MountPath:  getEnv("POSE_SIDECAR_MOUNT", "/data/uploads"),
			StopOnExit: getEnvBool("POSE_SIDECAR_STOP_ON_EXIT", false),
		},
		FrameStride:     getEnvInt("FRAME_STRIDE", 1),
		LegacyStride:    getEnvInt("LEGACY_FRAME_STRIDE", 3),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),
		Retention: RetentionConfig{
			AnalysisTTL:      getEnvDuration("ANALYSIS_RETENTION", 30*24*time.Hour),
			UploadStaleAfter: getEnvDuration("UPLOAD_STALE_AFTER", time.Hour),
			Interval:         getEnvDuration("RETENTION_INTERVAL", 10*time.Minute),
		},
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	cfg.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", defaultOrigins))
	if cfg.FrontendURL != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, cfg.FrontendURL)
	}

	// A managed sidecar sees uploads at its mount path.
	if cfg.Sidecar.Enabled() && cfg.Pose.PathPrefix == "" {
		cfg.Pose.PathPrefix = cfg.Sidecar.MountPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if !contains(validBackends, c.Store.Backend) {
		return fmt.Errorf("STORE_BACKEND must be one of %s", strings.Join(validBackends, ", "))
	}
	if c.Store.Backend != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("DB_DSN cannot be empty for backend %s", c.Store.Backend)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.FrameStride < 1 || c.LegacyStride < 1 {
		return fmt.Errorf("FRAME_STRIDE and LEGACY_FRAME_STRIDE must be >= 1")
	}
	if c.Pose.ModelComplexity < 0 || c.Pose.ModelComplexity > 2 {
		return fmt.Errorf("MODEL_COMPLEXITY must be 0, 1 or 2")
	}
	if !unit(c.Pose.MinDetectionConfidence) || !unit(c.Pose.MinTrackingConfidence) {
		return fmt.Errorf("confidence thresholds must be within [0, 1]")
	}
	if c.Sidecar.Enabled() && (c.Sidecar.Port <= 0 || c.Sidecar.Name == "") {
		return fmt.Errorf("POSE_SIDECAR_PORT and POSE_SIDECAR_NAME are required with POSE_SIDECAR_IMAGE")
	}
	if c.Retention.AnalysisTTL < 0 || c.Retention.UploadStaleAfter < 0 {
		return fmt.Errorf("retention durations cannot be negative")
	}
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be > 0")
	}
	return nil
}

// PoseAddr returns the address to dial for the pose service. A managed
// sidecar is reached by container name from inside the Docker network and by
// its published port otherwise.
func (c *Config) PoseAddr() string {
	if c.Pose.Addr != "" || !c.Sidecar.Enabled() {
		return c.Pose.Addr
	}
	if IsContainer() {
		return fmt.Sprintf("%s:%d", c.Sidecar.Name, c.Sidecar.Port)
	}
	return fmt.Sprintf("localhost:%d", c.Sidecar.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s", "24h") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
