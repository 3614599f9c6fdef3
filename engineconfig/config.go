// Package engineconfig loads the plan engine's static configuration: plan
// expiry, which cloud driver backs each plan type, the migrate network
// mapping, and per-cloud credentials (spec.md §6, §9 "EngineConfig").
package engineconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the top-level configuration loaded from the engine's YAML
// file at startup.
type EngineConfig struct {
	// PlanExpireTime is how long after creation a plan's expire_at is set
	// (e.g. "24h"). Expiry is advisory: nothing in the engine changes a
	// plan's status or deletes it once expire_at has passed.
	PlanExpireTime string `yaml:"plan_expire_time" json:"plan_expire_time"`

	// CloneDriver names the default driver used when a plan's source and
	// destination cloud are the same (spec.md §4.4, GLOSSARY "Driver").
	CloneDriver string `yaml:"clone_driver" json:"clone_driver"`

	// ResourceManagers maps a resource type tag to the driver name
	// responsible for it, letting individual resource kinds be routed to a
	// manager other than CloneDriver (spec.md §9 supplemented feature:
	// resource_managers registry).
	ResourceManagers map[string]string `yaml:"resource_managers,omitempty" json:"resource_managers,omitempty"`

	// CloneMigrateType accepts "stack" or "template" and defaults to
	// "stack". Nothing outside this package reads it: it does not change
	// how a clone is packaged, and the cold/live clone regime follows
	// Plan.SysClone instead.
	CloneMigrateType string `yaml:"clone_migrate_type" json:"clone_migrate_type"`

	// MigrateNetMap supplies, per availability zone, the network on which a
	// migrate port is attached to a running source server to reach its
	// gateway agent (spec.md §4.4.3 (b)); a running server whose AZ has no
	// entry has its gateway address inferred from an existing port instead.
	MigrateNetMap map[string]string `yaml:"migrate_net_map,omitempty" json:"migrate_net_map,omitempty"`

	// V2VGatewayAPIListenPort is the port the in-guest agent's RPC server
	// listens on (spec.md §D.7 / SPEC_FULL.md driver.AgentClient).
	V2VGatewayAPIListenPort int `yaml:"v2v_gateway_api_listen_port" json:"v2v_gateway_api_listen_port"`

	// SysImage is the bootable image substituted for the source image of
	// each system-disk volume in the volume sub-stack of a cold clone
	// (Plan.SysClone false).
	SysImage string `yaml:"sys_image,omitempty" json:"sys_image,omitempty"`

	// PlanFilePath is the filesystem root under which exported/downloaded
	// templates (including factored file:// sub-templates) are written.
	PlanFilePath string `yaml:"plan_file_path" json:"plan_file_path"`

	// Store configures the Plan Store Facade backend.
	Store StoreConfig `yaml:"store" json:"store"`

	// HTTPAddr is the listen address for the plan engine's HTTP surface.
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`

	// Clouds holds per-driver credentials, keyed by driver name (matching
	// CloneDriver / ResourceManagers values).
	Clouds map[string]CloudCredentials `yaml:"clouds,omitempty" json:"clouds,omitempty"`
}

// StoreConfig selects and configures the Plan Store Facade backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `yaml:"backend" json:"backend"`

	// DSN is the PostgreSQL connection string, required when Backend is "postgres".
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// CloudCredentials holds the fields needed to authenticate a driver against
// one of the supported cloud backends. Only the fields relevant to a given
// driver are populated; the rest are left zero.
type CloudCredentials struct {
	// AWS
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`

	// Azure
	TenantID     string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	SubscriptionID string `yaml:"subscription_id,omitempty" json:"subscription_id,omitempty"`

	// GCP
	ProjectID           string `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	ServiceAccountKeyFile string `yaml:"service_account_key_file,omitempty" json:"service_account_key_file,omitempty"`

	// DigitalOcean
	APIToken string `yaml:"api_token,omitempty" json:"api_token,omitempty"`

	// OpenStack stack engine (driver/stackengine): reached independently of
	// whichever per-cloud compute/block/network driver a build links in,
	// since none of them front a Heat-compatible stack engine (see
	// DESIGN.md). Conventionally configured under the "stack_engine" key of
	// Clouds.
	AuthURL     string `yaml:"auth_url,omitempty" json:"auth_url,omitempty"`
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"password,omitempty"`
	DomainName  string `yaml:"domain_name,omitempty" json:"domain_name,omitempty"`
	ProjectName string `yaml:"project_name,omitempty" json:"project_name,omitempty"`
}

// Load reads and parses the YAML configuration file at path, applying
// defaults for fields left unset (mirrors platform.ParsePlatformConfig's
// load-then-default shape).
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config %q: %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse engine config %q: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid engine config %q: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *EngineConfig) {
	if cfg.PlanExpireTime == "" {
		cfg.PlanExpireTime = "24h"
	}
	if cfg.CloneMigrateType == "" {
		cfg.CloneMigrateType = "stack"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.V2VGatewayAPIListenPort == 0 {
		cfg.V2VGatewayAPIListenPort = 16666
	}
}

// Validate checks that required fields are present and internally
// consistent, returning the first violation found.
func Validate(cfg *EngineConfig) error {
	if cfg.CloneDriver == "" {
		return fmt.Errorf("clone_driver is required")
	}
	if cfg.CloneMigrateType != "stack" && cfg.CloneMigrateType != "template" {
		return fmt.Errorf("clone_migrate_type must be \"stack\" or \"template\", got %q", cfg.CloneMigrateType)
	}
	if _, err := cfg.PlanExpireDuration(); err != nil {
		return fmt.Errorf("plan_expire_time: %w", err)
	}
	switch cfg.Store.Backend {
	case "memory":
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.backend is \"postgres\"")
		}
	default:
		return fmt.Errorf("store.backend must be \"memory\" or \"postgres\", got %q", cfg.Store.Backend)
	}
	return nil
}

// PlanExpireDuration parses PlanExpireTime as a time.Duration.
func (c *EngineConfig) PlanExpireDuration() (time.Duration, error) {
	return time.ParseDuration(c.PlanExpireTime)
}

// DriverFor resolves the driver name responsible for a given resource type
// tag, falling back to CloneDriver when no entry exists in ResourceManagers
// (spec.md §9 supplemented feature: resource_managers registry).
func (c *EngineConfig) DriverFor(resourceType string) string {
	if name, ok := c.ResourceManagers[resourceType]; ok && name != "" {
		return name
	}
	return c.CloneDriver
}
