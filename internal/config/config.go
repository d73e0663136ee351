package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/a8m/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/fleetscaler/internal/types"
)

// UserDataFamily selects which user-data template a launched VM receives.
type UserDataFamily string

const (
	FamilyUnix           UserDataFamily = "unix"
	FamilyWindowsHourly  UserDataFamily = "windows-hourly"
)

// LaunchTemplate is an opaque, provider-specific template reference.
type LaunchTemplate struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version" yaml:"version"`
}

// SlotConfig is the master-side shape of a node created for a label,
// following the DumbSlave schema in spec.md §6.
type SlotConfig struct {
	Description      string `json:"description" yaml:"description"`
	RemoteFS         string `json:"remoteFS" yaml:"remoteFS"`
	Executors        int    `json:"executors" yaml:"executors"`
	Exclusive        bool   `json:"exclusive" yaml:"exclusive"`
	RestrictionRegex string `json:"restrictionRegex,omitempty" yaml:"restrictionRegex,omitempty"`
	TunnelAddress    string `json:"tunnelAddress" yaml:"tunnelAddress"`
}

// LabelConfig bundles every per-label knob in spec.md §4.1's table.
type LabelConfig struct {
	ExecutorsPerNode int
	WarmPool         int
	MinQueueAge      time.Duration
	MaxStartupAge    time.Duration
	LaunchTemplate   LaunchTemplate
	UserDataFamily   UserDataFamily
	Slot             SlotConfig
}

// IsWindowsHourly reports whether this label's VMs bill by the wall-clock
// hour, which makes them ineligible for termination except near the hour
// boundary (spec.md §4.3).
func (l LabelConfig) IsWindowsHourly() bool {
	return l.UserDataFamily == FamilyWindowsHourly
}

// Registry is the fully-resolved, read-only configuration for one pass.
// It is safe for concurrent use by every reader once Load returns.
type Registry struct {
	ManagedLabels map[types.Label]struct{}
	IgnoredLabels map[types.Label]struct{}
	Labels        map[types.Label]LabelConfig

	// IgnoredExecutorNames are display names that are never touched,
	// e.g. the master's own built-in node.
	IgnoredExecutorNames map[string]struct{}

	// BootstrapLabel is assigned to a queue item whose why is exactly
	// "Waiting for next available executor" (no label token at all) —
	// the only path that creates capacity from a cold, executor-less
	// master (spec.md §4.4 step 2, §8 scenario 1).
	BootstrapLabel types.Label

	PerRoundUpscaleCap   int
	PerRoundDownscaleCap int

	MasterParallelism       int
	MasterCreateParallelism int
	ProviderParallelism     int
	MasterRequestTimeout    time.Duration

	WindowsMinPartialUptime time.Duration
	RetryCountResetSeconds  int
	MaxAgentRetries         int

	MasterPublicURL  string
	MasterTunnelURL  string
}

// yamlDoc mirrors Registry's JSON/env shape for the optional file source.
type yamlDoc struct {
	ManagedLabels        []string                      `yaml:"managedLabels"`
	IgnoredLabels        []string                      `yaml:"ignoredLabels"`
	IgnoredExecutorNames []string                      `yaml:"ignoredExecutorNames"`
	BootstrapLabel       string                        `yaml:"bootstrapLabel"`
	PerRoundUpscaleCap   int                           `yaml:"perRoundUpscaleCap"`
	PerRoundDownscaleCap int                           `yaml:"perRoundDownscaleCap"`

	MasterParallelism       int    `yaml:"masterParallelism"`
	MasterCreateParallelism int    `yaml:"masterCreateParallelism"`
	ProviderParallelism     int    `yaml:"providerParallelism"`
	MasterRequestTimeoutSec int    `yaml:"masterRequestTimeoutSeconds"`
	WindowsMinPartialUptime int    `yaml:"windowsMinPartialUptimeSeconds"`
	RetryCountResetSeconds  int    `yaml:"retryCountResetSeconds"`
	MaxAgentRetries         int    `yaml:"maxAgentRetries"`
	MasterPublicURL         string `yaml:"masterPublicUrl"`
	MasterTunnelURL         string `yaml:"masterTunnelUrl"`

	Labels map[string]struct {
		ExecutorsPerNode  int    `yaml:"executorsPerNode"`
		WarmPool          int    `yaml:"warmPool"`
		MinQueueAgeSec    int    `yaml:"minQueueAgeSeconds"`
		MaxStartupAgeSec  int    `yaml:"maxStartupAgeSeconds"`
		TemplateID        string `yaml:"templateId"`
		TemplateVersion   string `yaml:"templateVersion"`
		UserDataFamily    string `yaml:"userDataFamily"`
		SlotDescription   string `yaml:"slotDescription"`
		SlotRemoteFS      string `yaml:"slotRemoteFS"`
		SlotExecutors     int    `yaml:"slotExecutors"`
		SlotExclusive     bool   `yaml:"slotExclusive"`
		RestrictionRegex  string `yaml:"restrictionRegex"`
		TunnelAddress     string `yaml:"tunnelAddress"`
	} `yaml:"labels"`
}

const (
	envManagedLabels         = "FLEETSCALER_MANAGED_LABELS"
	envIgnoredLabels         = "FLEETSCALER_IGNORED_LABELS"
	envIgnoredExecutorNames  = "FLEETSCALER_IGNORED_EXECUTOR_NAMES"
	envBootstrapLabel        = "FLEETSCALER_BOOTSTRAP_LABEL"
	envPerRoundUpscaleCap    = "FLEETSCALER_PER_ROUND_UPSCALE_CAP"
	envPerRoundDownscaleCap  = "FLEETSCALER_PER_ROUND_DOWNSCALE_CAP"
	envMasterParallelism     = "FLEETSCALER_MASTER_PARALLELISM"
	envMasterCreateParallel  = "FLEETSCALER_MASTER_CREATE_PARALLELISM"
	envProviderParallelism   = "FLEETSCALER_PROVIDER_PARALLELISM"
	envMasterRequestTimeout  = "FLEETSCALER_MASTER_REQUEST_TIMEOUT_SECONDS"
	envWindowsMinPartial     = "FLEETSCALER_WINDOWS_MIN_PARTIAL_UPTIME_SECONDS"
	envRetryCountReset       = "FLEETSCALER_RETRY_COUNT_RESET_SECONDS"
	envMaxAgentRetries       = "FLEETSCALER_MAX_AGENT_RETRIES"
	envMasterPublicURL       = "FLEETSCALER_MASTER_PUBLIC_URL"
	envMasterTunnelURL       = "FLEETSCALER_MASTER_TUNNEL_URL"
	envLabelsJSON            = "FLEETSCALER_LABELS_JSON"
	envConfigFile            = "FLEETSCALER_CONFIG_FILE"
)

// defaultWindowsMinPartialUptime matches handler.py's
// WINDOWS_MIN_PARTIAL_RUNTIME_SECONDS (55 minutes).
const defaultWindowsMinPartialUptime = 55 * 60 * time.Second

// Load builds a Registry from the environment and, optionally, a YAML
// file named by configFile (or FLEETSCALER_CONFIG_FILE if configFile is
// empty). Environment variables take precedence over the file.
func Load(configFile string) (*Registry, error) {
	doc := yamlDoc{}

	path := configFile
	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		expanded, err := envsubst.String(string(raw))
		if err != nil {
			return nil, fmt.Errorf("config: expanding %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	r := &Registry{
		ManagedLabels:           labelSet(firstNonEmptyJSONList(envManagedLabels, doc.ManagedLabels)),
		IgnoredLabels:           labelSet(firstNonEmptyJSONList(envIgnoredLabels, doc.IgnoredLabels)),
		IgnoredExecutorNames:    stringSet(firstNonEmptyJSONList(envIgnoredExecutorNames, doc.IgnoredExecutorNames)),
		BootstrapLabel:          types.Label(firstNonEmpty(os.Getenv(envBootstrapLabel), doc.BootstrapLabel)),
		PerRoundUpscaleCap:      firstPositiveInt(envPerRoundUpscaleCap, doc.PerRoundUpscaleCap, 20),
		PerRoundDownscaleCap:    firstPositiveInt(envPerRoundDownscaleCap, doc.PerRoundDownscaleCap, 40),
		MasterParallelism:       firstPositiveInt(envMasterParallelism, doc.MasterParallelism, 100),
		MasterCreateParallelism: firstPositiveInt(envMasterCreateParallel, doc.MasterCreateParallelism, 10),
		ProviderParallelism:     firstPositiveInt(envProviderParallelism, doc.ProviderParallelism, 3),
		MasterRequestTimeout:    time.Duration(firstPositiveInt(envMasterRequestTimeout, doc.MasterRequestTimeoutSec, 300)) * time.Second,
		WindowsMinPartialUptime: durationOrDefault(envWindowsMinPartial, doc.WindowsMinPartialUptime, defaultWindowsMinPartialUptime),
		RetryCountResetSeconds:  firstPositiveInt(envRetryCountReset, doc.RetryCountResetSeconds, 1800),
		MaxAgentRetries:         firstPositiveInt(envMaxAgentRetries, doc.MaxAgentRetries, 10),
		MasterPublicURL:         firstNonEmpty(os.Getenv(envMasterPublicURL), doc.MasterPublicURL),
		MasterTunnelURL:         firstNonEmpty(os.Getenv(envMasterTunnelURL), doc.MasterTunnelURL),
		Labels:                  map[types.Label]LabelConfig{},
	}

	if v := os.Getenv(envLabelsJSON); v != "" {
		var envLabels map[string]struct {
			ExecutorsPerNode int    `json:"executorsPerNode"`
			WarmPool         int    `json:"warmPool"`
			MinQueueAgeSec   int    `json:"minQueueAgeSeconds"`
			MaxStartupAgeSec int    `json:"maxStartupAgeSeconds"`
			TemplateID       string `json:"templateId"`
			TemplateVersion  string `json:"templateVersion"`
			UserDataFamily   string `json:"userDataFamily"`
			SlotDescription  string `json:"slotDescription"`
			SlotRemoteFS     string `json:"slotRemoteFS"`
			SlotExecutors    int    `json:"slotExecutors"`
			SlotExclusive    bool   `json:"slotExclusive"`
			RestrictionRegex string `json:"restrictionRegex"`
			TunnelAddress    string `json:"tunnelAddress"`
		}
		if err := json.Unmarshal([]byte(v), &envLabels); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", envLabelsJSON, err)
		}
		for name, lc := range envLabels {
			r.Labels[types.Label(name)] = LabelConfig{
				ExecutorsPerNode: lc.ExecutorsPerNode,
				WarmPool:         lc.WarmPool,
				MinQueueAge:      time.Duration(lc.MinQueueAgeSec) * time.Second,
				MaxStartupAge:    time.Duration(lc.MaxStartupAgeSec) * time.Second,
				LaunchTemplate:   LaunchTemplate{ID: lc.TemplateID, Version: lc.TemplateVersion},
				UserDataFamily:   UserDataFamily(lc.UserDataFamily),
				Slot: SlotConfig{
					Description:      lc.SlotDescription,
					RemoteFS:         lc.SlotRemoteFS,
					Executors:        lc.SlotExecutors,
					Exclusive:        lc.SlotExclusive,
					RestrictionRegex: lc.RestrictionRegex,
					TunnelAddress:    lc.TunnelAddress,
				},
			}
		}
	} else {
		for name, lc := range doc.Labels {
			r.Labels[types.Label(name)] = LabelConfig{
				ExecutorsPerNode: lc.ExecutorsPerNode,
				WarmPool:         lc.WarmPool,
				MinQueueAge:      time.Duration(lc.MinQueueAgeSec) * time.Second,
				MaxStartupAge:    time.Duration(lc.MaxStartupAgeSec) * time.Second,
				LaunchTemplate:   LaunchTemplate{ID: lc.TemplateID, Version: lc.TemplateVersion},
				UserDataFamily:   UserDataFamily(lc.UserDataFamily),
				Slot: SlotConfig{
					Description:      lc.SlotDescription,
					RemoteFS:         lc.SlotRemoteFS,
					Executors:        lc.SlotExecutors,
					Exclusive:        lc.SlotExclusive,
					RestrictionRegex: lc.RestrictionRegex,
					TunnelAddress:    lc.TunnelAddress,
				},
			}
		}
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// validate enforces spec.md §4.1: every managed label must carry a
// complete, sane LabelConfig.
func (r *Registry) validate() error {
	for label := range r.ManagedLabels {
		lc, ok := r.Labels[label]
		if !ok {
			return fmt.Errorf("config: managed label %q has no configuration entry", label)
		}
		if lc.ExecutorsPerNode <= 0 {
			return fmt.Errorf("config: managed label %q: executors-per-node must be positive, got %d", label, lc.ExecutorsPerNode)
		}
		if lc.LaunchTemplate.ID == "" {
			return fmt.Errorf("config: managed label %q has no launch template", label)
		}
	}
	if r.BootstrapLabel != "" {
		if _, ok := r.ManagedLabels[r.BootstrapLabel]; !ok {
			return fmt.Errorf("config: bootstrap label %q is not a managed label", r.BootstrapLabel)
		}
	}
	return nil
}

func labelSet(values []string) map[types.Label]struct{} {
	out := make(map[types.Label]struct{}, len(values))
	for _, v := range values {
		out[types.Label(v)] = struct{}{}
	}
	return out
}

func stringSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func firstNonEmptyJSONList(envVar string, fallback []string) []string {
	if v := os.Getenv(envVar); v != "" {
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositiveInt(envVar string, fallback, def int) int {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if fallback > 0 {
		return fallback
	}
	return def
}

func durationOrDefault(envVar string, fallbackSeconds int, def time.Duration) time.Duration {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if fallbackSeconds > 0 {
		return time.Duration(fallbackSeconds) * time.Second
	}
	return def
}
