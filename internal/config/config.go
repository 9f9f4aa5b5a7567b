// Package config loads process-level configuration from ./config.json
// merged onto in-code defaults, with .env-style secret injection, per
// spec.md §6 "Config".
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Git holds the VCS-related settings from spec.md §6.
type Git struct {
	AutoPush                 bool   `json:"autoPush"`
	PushRemote                string `json:"pushRemote"`
	AllowProtectedBranchPush  bool   `json:"allowProtectedBranchPush"`
	AutoUpdateGitignore       bool   `json:"autoUpdateGitignore"`
	EnablePullRequest         bool   `json:"enablePullRequest"`
}

// Docs holds documentation-update settings. The renderer itself is an
// external collaborator (spec.md §1); only the trigger config lives here.
type Docs struct {
	Enabled         bool     `json:"enabled"`
	UpdateFrequency int      `json:"updateFrequency"`
	Targets         []string `json:"targets"`
}

// RateLimitFallback controls the secondary-provider fallback and its
// confirmation-queue review policy (spec.md §6, §9 Open Questions).
type RateLimitFallback struct {
	Enabled          bool     `json:"enabled"`
	FallbackProvider string   `json:"fallbackProvider"`
	TrackChanges     bool     `json:"trackChanges"`
	AutoReview       bool     `json:"autoReview"`
	ReviewOnPhases   []string `json:"reviewOnPhases"`
}

// Research controls the periodic research subsystem trigger (spec.md
// §4.M step 6).
type Research struct {
	Enabled             bool    `json:"enabled"`
	Frequency           int     `json:"frequency"`
	MaxTopicsPerCycle   int     `json:"maxTopicsPerCycle"`
	MinConfidenceToQueue float64 `json:"minConfidenceToQueue"`
}

// AI holds the configured AI provider name/model; concrete transports are
// out of core scope (spec.md §1) but the provider selection is config.
type AI struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Limits holds the process-wide tunable constants named in spec.md §5
// "Resource bounds".
type Limits struct {
	MaxFilesPerChange          int `json:"maxFilesPerChange"`
	MaxLinesPerFile            int `json:"maxLinesPerFile"`
	MaxSnapshots               int `json:"maxSnapshots"`
	MaxActiveTroubles          int `json:"maxActiveTroubles"`
	CleanupDays                int `json:"cleanupDays"`
	MaxConsecutiveFailures     int `json:"maxConsecutiveFailures"`
	MaxConfirmationsPerCycle   int `json:"maxConfirmationsPerCycle"`
	PatternHistoryMax          int `json:"patternHistoryMax"`
	DefaultImprovementPriority int `json:"defaultImprovementPriority"`
}

// Config is the merged, process-level configuration.
type Config struct {
	Port          int               `json:"port"`
	CheckInterval time.Duration     `json:"checkInterval"`
	WorkspaceRoot string            `json:"workspaceRoot"`
	AI            AI                `json:"ai"`
	Git           Git               `json:"git"`
	Docs          Docs              `json:"docs"`
	RateLimitFallback RateLimitFallback `json:"rateLimitFallback"`
	Research      Research          `json:"research"`
	Limits        Limits            `json:"limits"`
}

// Default returns the built-in defaults every loaded config is merged onto.
func Default() Config {
	return Config{
		Port:          8080,
		CheckInterval: 5 * time.Minute,
		WorkspaceRoot: ".",
		AI: AI{
			Provider: "anthropic",
			Model:    "default",
		},
		Git: Git{
			PushRemote: "origin",
		},
		Docs: Docs{
			UpdateFrequency: 10,
		},
		RateLimitFallback: RateLimitFallback{
			FallbackProvider: "opencode",
		},
		Research: Research{
			Frequency:           10,
			MaxTopicsPerCycle:   3,
			MinConfidenceToQueue: 0.6,
		},
		Limits: Limits{
			MaxFilesPerChange:          5,
			MaxLinesPerFile:            500,
			MaxSnapshots:               10,
			MaxActiveTroubles:          1000,
			CleanupDays:                30,
			MaxConsecutiveFailures:     5,
			MaxConfirmationsPerCycle:   5,
			PatternHistoryMax:          50,
			DefaultImprovementPriority: 50,
		},
	}
}

// Load reads envFile (if non-empty, via godotenv, matching the teacher's
// cli.go loadConfiguration) into the process environment, then reads
// configPath as JSON and merges its non-zero fields onto Default(). A
// missing configPath is not an error — the defaults (plus any .env
// overrides applied separately by the caller) are used as-is.
func Load(configPath, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load env file %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var overlay Config
	if err := json.Unmarshal(data, &overlay); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", configPath, err)
	}

	merge(&cfg, overlay)
	return cfg, nil
}

// merge overlays non-zero fields of o onto cfg. Only the fields that are
// realistically partial in a hand-edited config.json are merged field by
// field; nested struct zero values are left alone.
func merge(cfg *Config, o Config) {
	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if o.CheckInterval != 0 {
		cfg.CheckInterval = o.CheckInterval
	}
	if o.WorkspaceRoot != "" {
		cfg.WorkspaceRoot = o.WorkspaceRoot
	}
	if o.AI.Provider != "" {
		cfg.AI.Provider = o.AI.Provider
	}
	if o.AI.Model != "" {
		cfg.AI.Model = o.AI.Model
	}
	cfg.Git.AutoPush = cfg.Git.AutoPush || o.Git.AutoPush
	if o.Git.PushRemote != "" {
		cfg.Git.PushRemote = o.Git.PushRemote
	}
	cfg.Git.AllowProtectedBranchPush = cfg.Git.AllowProtectedBranchPush || o.Git.AllowProtectedBranchPush
	cfg.Git.AutoUpdateGitignore = cfg.Git.AutoUpdateGitignore || o.Git.AutoUpdateGitignore
	cfg.Git.EnablePullRequest = cfg.Git.EnablePullRequest || o.Git.EnablePullRequest

	cfg.Docs.Enabled = cfg.Docs.Enabled || o.Docs.Enabled
	if o.Docs.UpdateFrequency != 0 {
		cfg.Docs.UpdateFrequency = o.Docs.UpdateFrequency
	}
	if len(o.Docs.Targets) > 0 {
		cfg.Docs.Targets = o.Docs.Targets
	}

	cfg.RateLimitFallback.Enabled = cfg.RateLimitFallback.Enabled || o.RateLimitFallback.Enabled
	if o.RateLimitFallback.FallbackProvider != "" {
		cfg.RateLimitFallback.FallbackProvider = o.RateLimitFallback.FallbackProvider
	}
	cfg.RateLimitFallback.TrackChanges = cfg.RateLimitFallback.TrackChanges || o.RateLimitFallback.TrackChanges
	cfg.RateLimitFallback.AutoReview = cfg.RateLimitFallback.AutoReview || o.RateLimitFallback.AutoReview
	if len(o.RateLimitFallback.ReviewOnPhases) > 0 {
		cfg.RateLimitFallback.ReviewOnPhases = o.RateLimitFallback.ReviewOnPhases
	}

	cfg.Research.Enabled = cfg.Research.Enabled || o.Research.Enabled
	if o.Research.Frequency != 0 {
		cfg.Research.Frequency = o.Research.Frequency
	}
	if o.Research.MaxTopicsPerCycle != 0 {
		cfg.Research.MaxTopicsPerCycle = o.Research.MaxTopicsPerCycle
	}
	if o.Research.MinConfidenceToQueue != 0 {
		cfg.Research.MinConfidenceToQueue = o.Research.MinConfidenceToQueue
	}

	if o.Limits.MaxFilesPerChange != 0 {
		cfg.Limits.MaxFilesPerChange = o.Limits.MaxFilesPerChange
	}
	if o.Limits.MaxLinesPerFile != 0 {
		cfg.Limits.MaxLinesPerFile = o.Limits.MaxLinesPerFile
	}
	if o.Limits.MaxSnapshots != 0 {
		cfg.Limits.MaxSnapshots = o.Limits.MaxSnapshots
	}
	if o.Limits.MaxActiveTroubles != 0 {
		cfg.Limits.MaxActiveTroubles = o.Limits.MaxActiveTroubles
	}
	if o.Limits.CleanupDays != 0 {
		cfg.Limits.CleanupDays = o.Limits.CleanupDays
	}
	if o.Limits.MaxConsecutiveFailures != 0 {
		cfg.Limits.MaxConsecutiveFailures = o.Limits.MaxConsecutiveFailures
	}
	if o.Limits.MaxConfirmationsPerCycle != 0 {
		cfg.Limits.MaxConfirmationsPerCycle = o.Limits.MaxConfirmationsPerCycle
	}
	if o.Limits.PatternHistoryMax != 0 {
		cfg.Limits.PatternHistoryMax = o.Limits.PatternHistoryMax
	}
	if o.Limits.DefaultImprovementPriority != 0 {
		cfg.Limits.DefaultImprovementPriority = o.Limits.DefaultImprovementPriority
	}
}
