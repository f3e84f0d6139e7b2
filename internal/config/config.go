package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default endpoints for the hosted structure-prediction service and the RCSB FASTA download.
const (
	DefaultAPIURL       = "https://health.api.nvidia.com/v1/biology/mit/boltz2/predict"
	DefaultStatusURL    = "https://api.nvcf.nvidia.com/v2/nvcf/pexec/status/"
	DefaultAccessionURL = "https://www.rcsb.org/fasta/entry/%s/download"
)

// Environment variables that override file configuration.
const (
	EnvAPIKey    = "PROTKIT_API_KEY"
	EnvAPIURL    = "PROTKIT_API_URL"
	EnvStatusURL = "PROTKIT_STATUS_URL"
	EnvUseMock   = "PROTKIT_USE_MOCK"
)

// Sampling holds the fixed sampling parameters sent with every prediction request.
type Sampling struct {
	RecyclingSteps    int     `json:"recycling_steps,omitempty"`
	SamplingSteps     int     `json:"sampling_steps,omitempty"`
	DiffusionSamples  int     `json:"diffusion_samples,omitempty"`
	StepScale         float64 `json:"step_scale,omitempty"`
	WithoutPotentials *bool   `json:"without_potentials,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// APIURL is the prediction endpoint that receives the initial POST.
	APIURL string `json:"api_url,omitempty"`

	// StatusURL is the prefix for status polls; the task id from the
	// nvcf-reqid response header is appended to it.
	StatusURL string `json:"status_url,omitempty"`

	// APIKey is the bearer credential. Prefer PROTKIT_API_KEY or a .env file
	// over storing it in config.json.
	APIKey string `json:"api_key,omitempty"`

	// UseMock forces the synthetic predictor even when an API key is configured.
	UseMock bool `json:"use_mock,omitempty"`

	// RequestTimeoutSeconds bounds the initial prediction POST.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`

	// PollTimeoutSeconds bounds each status poll.
	PollTimeoutSeconds int `json:"poll_timeout_seconds,omitempty"`

	// PollIntervalSeconds is the wait between status polls.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`

	// MaxPolls is the status poll budget before a task is reported as exhausted.
	MaxPolls int `json:"max_polls,omitempty"`

	// PollSecondsHint is sent as NVCF-POLL-SECONDS so the service may hold the
	// initial request open until the result is ready.
	PollSecondsHint int `json:"poll_seconds_hint,omitempty"`

	// Sampling parameters included in the request payload.
	Sampling Sampling `json:"sampling,omitempty"`

	// MockDelayMillis is the simulated latency of the mock predictor.
	// Negative values disable the delay.
	MockDelayMillis int `json:"mock_delay_millis,omitempty"`

	// AccessionURL is a format string with one %s for the uppercased accession.
	AccessionURL string `json:"accession_url,omitempty"`

	// AccessionTimeoutSeconds bounds the accession lookup request.
	AccessionTimeoutSeconds int `json:"accession_timeout_seconds,omitempty"`

	// AllowedPaths is an allowlist of directories for exported files.
	// Paths outside ~/.protkit/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for exports.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	withoutPotentials := true
	return &Config{
		APIURL:                DefaultAPIURL,
		StatusURL:             DefaultStatusURL,
		RequestTimeoutSeconds: 300,
		PollTimeoutSeconds:    120,
		PollIntervalSeconds:   20,
		MaxPolls:              30,
		PollSecondsHint:       300,
		Sampling: Sampling{
			RecyclingSteps:    1,
			SamplingSteps:     50,
			DiffusionSamples:  3,
			StepScale:         1.2,
			WithoutPotentials: &withoutPotentials,
		},
		MockDelayMillis:         2000,
		AccessionURL:            DefaultAccessionURL,
		AccessionTimeoutSeconds: 10,
	}
}

// UseRemote reports whether predictions should go to the real service.
func (c *Config) UseRemote() bool {
	return !c.UseMock && strings.TrimSpace(c.APIKey) != ""
}

// MockDelay returns the mock predictor latency.
func (c *Config) MockDelay() time.Duration {
	if c.MockDelayMillis <= 0 {
		return 0
	}
	return time.Duration(c.MockDelayMillis) * time.Millisecond
}

// Load loads configuration from baseDir/config.json, then applies
// baseDir/.env and process environment overrides.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(baseDir); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadWithRepo loads configuration from both global (~/.protkit) and repo (.protkit) directories.
// Repo config is found by walking upward from startDir to find the nearest .protkit/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Environment overrides are applied last.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	if err := LoadDotEnv(globalDir); err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	ApplyEnv(cfg)
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .protkit/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".protkit", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadDotEnv loads dir/.env into the process environment if it exists.
// Variables already set in the environment are not overwritten.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides credential and endpoint settings from the environment.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStatusURL)); v != "" {
		cfg.StatusURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUseMock)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseMock = b
		}
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.APIURL = pickString(overlay.APIURL, base.APIURL)
	result.StatusURL = pickString(overlay.StatusURL, base.StatusURL)
	result.APIKey = pickString(overlay.APIKey, base.APIKey)
	result.AccessionURL = pickString(overlay.AccessionURL, base.AccessionURL)

	result.RequestTimeoutSeconds = pickInt(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds)
	result.PollTimeoutSeconds = pickInt(overlay.PollTimeoutSeconds, base.PollTimeoutSeconds)
	result.PollIntervalSeconds = pickInt(overlay.PollIntervalSeconds, base.PollIntervalSeconds)
	result.MaxPolls = pickInt(overlay.MaxPolls, base.MaxPolls)
	result.PollSecondsHint = pickInt(overlay.PollSecondsHint, base.PollSecondsHint)
	result.MockDelayMillis = pickInt(overlay.MockDelayMillis, base.MockDelayMillis)
	result.AccessionTimeoutSeconds = pickInt(overlay.AccessionTimeoutSeconds, base.AccessionTimeoutSeconds)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.Sampling.RecyclingSteps = pickInt(overlay.Sampling.RecyclingSteps, base.Sampling.RecyclingSteps)
	result.Sampling.SamplingSteps = pickInt(overlay.Sampling.SamplingSteps, base.Sampling.SamplingSteps)
	result.Sampling.DiffusionSamples = pickInt(overlay.Sampling.DiffusionSamples, base.Sampling.DiffusionSamples)
	result.Sampling.StepScale = overlay.Sampling.StepScale
	if result.Sampling.StepScale == 0 {
		result.Sampling.StepScale = base.Sampling.StepScale
	}
	result.Sampling.WithoutPotentials = overlay.Sampling.WithoutPotentials
	if result.Sampling.WithoutPotentials == nil {
		result.Sampling.WithoutPotentials = base.Sampling.WithoutPotentials
	}

	// Booleans: overlay wins if true, else base
	result.UseMock = base.UseMock || overlay.UseMock
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
