package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akam1o/arca-dataops/pkg/arca"
	"github.com/akam1o/arca-dataops/pkg/kube"
	"github.com/akam1o/arca-dataops/pkg/lock"
	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/orchestrator"
	"github.com/akam1o/arca-dataops/pkg/poll"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// Backend names accepted in the backend field
const (
	BackendArray = "array"
	BackendClaim = "claim"
)

// Config represents the arca-dataops configuration
type Config struct {
	// Backend selects the substrate: "array" or "claim"
	Backend string `yaml:"backend"`

	// ARCA API configuration
	ARCA ArcaConfig `yaml:"arca"`

	// Kubernetes configuration for the claim backend and leases
	Kubernetes KubernetesConfig `yaml:"kubernetes"`

	// Defaults applied to new volumes
	Defaults DefaultsConfig `yaml:"defaults"`

	// Orchestrator tuning
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ArcaConfig holds ARCA API configuration
type ArcaConfig struct {
	BaseURL    string    `yaml:"base_url"`
	Timeout    Duration  `yaml:"timeout"`
	RetryCount int       `yaml:"retry_count"`
	AuthToken  string    `yaml:"auth_token"`
	SVM        string    `yaml:"svm"`
	TLS        TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	CACertPath     string `yaml:"ca_cert_path"`
	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	InsecureSkip   bool   `yaml:"insecure_skip_verify"`
}

func (t TLSConfig) isZero() bool {
	return t == TLSConfig{}
}

// KubernetesConfig holds cluster access configuration
type KubernetesConfig struct {
	// Kubeconfig is empty for in-cluster configuration
	Kubeconfig    string `yaml:"kubeconfig"`
	Namespace     string `yaml:"namespace"`
	StorageClass  string `yaml:"storage_class"`
	SnapshotClass string `yaml:"snapshot_class"`
}

// DefaultsConfig holds volume defaults
type DefaultsConfig struct {
	Style           string   `yaml:"style"`
	Aggregates      []string `yaml:"aggregates"`
	ExportPolicy    string   `yaml:"export_policy"`
	SnapshotPolicy  string   `yaml:"snapshot_policy"`
	SnapshotReserve *int32   `yaml:"snapshot_reserve"`
	UnixUID         string   `yaml:"unix_uid"`
	UnixGID         string   `yaml:"unix_gid"`
	UnixPermissions string   `yaml:"unix_permissions"`
	AccessMode      string   `yaml:"access_mode"`
}

// OrchestratorConfig holds orchestrator tuning
type OrchestratorConfig struct {
	Prefix            string     `yaml:"prefix"`
	CreatedBy         string     `yaml:"created_by"`
	PollInterval      Duration   `yaml:"poll_interval"`
	PollTimeout       Duration   `yaml:"poll_timeout"`
	ResolverCacheSize int        `yaml:"resolver_cache_size"`
	ResolverCacheTTL  Duration   `yaml:"resolver_cache_ttl"`
	Lock              LockConfig `yaml:"lock"`
}

// LockConfig configures the lease lock taken around restores
type LockConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Namespace string   `yaml:"namespace"`
	TTL       Duration `yaml:"ttl"`
}

// Duration is a wrapper for time.Duration to support YAML unmarshaling
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LoadConfig loads configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, opserr.New(opserr.ErrConfiguration, "load config", path, fmt.Errorf("failed to read config file: %w", err))
	}
	return Parse(data)
}

// Parse decodes configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, opserr.New(opserr.ErrConfiguration, "load config", "", fmt.Errorf("failed to parse config: %w", err))
	}

	// Set defaults
	if config.Backend == "" {
		config.Backend = BackendArray
	}
	if config.ARCA.Timeout.Duration == 0 {
		config.ARCA.Timeout.Duration = 30 * time.Second
	}
	if config.ARCA.RetryCount == 0 {
		config.ARCA.RetryCount = 3
	}
	if config.Kubernetes.Namespace == "" {
		config.Kubernetes.Namespace = "default"
	}
	if config.Orchestrator.Prefix == "" {
		config.Orchestrator.Prefix = orchestrator.DefaultPrefix
	}
	if config.Orchestrator.PollInterval.Duration == 0 {
		config.Orchestrator.PollInterval.Duration = poll.DefaultInterval
	}
	if config.Orchestrator.PollTimeout.Duration == 0 {
		config.Orchestrator.PollTimeout.Duration = poll.DefaultTimeout
	}
	if config.Orchestrator.Lock.Namespace == "" {
		config.Orchestrator.Lock.Namespace = config.Kubernetes.Namespace
	}

	// Override auth token from environment if set
	if envToken := os.Getenv("ARCA_AUTH_TOKEN"); envToken != "" {
		config.ARCA.AuthToken = envToken
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return opserr.New(opserr.ErrConfiguration, "validate config", "", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendArray:
		if c.ARCA.BaseURL == "" {
			return fmt.Errorf("arca.base_url is required")
		}
		if c.ARCA.SVM == "" {
			return fmt.Errorf("arca.svm is required")
		}
	case BackendClaim:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendArray, BackendClaim, c.Backend)
	}

	if c.ARCA.RetryCount < 0 {
		return fmt.Errorf("arca.retry_count must not be negative")
	}

	d := c.Defaults
	switch volume.Style(d.Style) {
	case "", volume.StyleFlexVol, volume.StyleFlexGroup:
	default:
		return fmt.Errorf("defaults.style must be flexvol or flexgroup, got %q", d.Style)
	}
	if d.SnapshotReserve != nil && (*d.SnapshotReserve < 0 || *d.SnapshotReserve > 90) {
		return fmt.Errorf("defaults.snapshot_reserve must be between 0 and 90")
	}
	if d.UnixUID != "" {
		if err := volume.ValidateUnixID("defaults.unix_uid", d.UnixUID); err != nil {
			return err
		}
	}
	if d.UnixGID != "" {
		if err := volume.ValidateUnixID("defaults.unix_gid", d.UnixGID); err != nil {
			return err
		}
	}
	if d.UnixPermissions != "" {
		if err := volume.ValidatePermissions(d.UnixPermissions); err != nil {
			return err
		}
	}

	o := c.Orchestrator
	if o.PollInterval.Duration < 0 || o.PollTimeout.Duration < 0 {
		return fmt.Errorf("orchestrator poll durations must not be negative")
	}
	if o.PollTimeout.Duration < o.PollInterval.Duration {
		return fmt.Errorf("orchestrator.poll_timeout must not be shorter than orchestrator.poll_interval")
	}
	if o.Lock.TTL.Duration < 0 {
		return fmt.Errorf("orchestrator.lock.ttl must not be negative")
	}
	if o.Lock.TTL.Duration > 0 && o.Lock.TTL.Duration < lock.MinTTL {
		return fmt.Errorf("orchestrator.lock.ttl must be at least %s", lock.MinTTL)
	}

	return nil
}

// ToArcaClientConfig converts to ARCA client configuration
func (c *Config) ToArcaClientConfig() *arca.ClientConfig {
	cfg := &arca.ClientConfig{
		BaseURL:    c.ARCA.BaseURL,
		Timeout:    c.ARCA.Timeout.Duration,
		RetryCount: c.ARCA.RetryCount,
		AuthToken:  c.ARCA.AuthToken,
	}
	if !c.ARCA.TLS.isZero() {
		cfg.TLSConfig = &arca.TLSConfig{
			CACertPath:     c.ARCA.TLS.CACertPath,
			ClientCertPath: c.ARCA.TLS.ClientCertPath,
			ClientKeyPath:  c.ARCA.TLS.ClientKeyPath,
			InsecureSkip:   c.ARCA.TLS.InsecureSkip,
		}
	}
	return cfg
}

// ToArcaDefaults converts to array backend volume defaults
func (c *Config) ToArcaDefaults() arca.Defaults {
	d := c.Defaults
	return arca.Defaults{
		SVM:             c.ARCA.SVM,
		Style:           volume.Style(d.Style),
		Aggregates:      d.Aggregates,
		ExportPolicy:    d.ExportPolicy,
		SnapshotPolicy:  d.SnapshotPolicy,
		SnapshotReserve: d.SnapshotReserve,
		UnixUID:         d.UnixUID,
		UnixGID:         d.UnixGID,
		UnixPermissions: d.UnixPermissions,
	}
}

// ToKubeOptions converts to claim backend options
func (c *Config) ToKubeOptions() kube.Options {
	return kube.Options{
		Namespace:     c.Kubernetes.Namespace,
		StorageClass:  c.Kubernetes.StorageClass,
		SnapshotClass: c.Kubernetes.SnapshotClass,
		AccessMode:    c.Defaults.AccessMode,
	}
}

// ToOrchestratorOptions converts to orchestrator options. The locker is
// wired by the caller.
func (c *Config) ToOrchestratorOptions() orchestrator.Options {
	o := c.Orchestrator
	return orchestrator.Options{
		Prefix:            o.Prefix,
		CreatedBy:         o.CreatedBy,
		PollInterval:      o.PollInterval.Duration,
		PollTimeout:       o.PollTimeout.Duration,
		SnapshotClass:     c.Kubernetes.SnapshotClass,
		ResolverCacheSize: o.ResolverCacheSize,
		ResolverCacheTTL:  o.ResolverCacheTTL.Duration,
	}
}
