//go:build digitalocean

package main

import (
	"context"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/driver/digitalocean"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
)

// buildCloudDriver wires the DigitalOcean adapter, reading its API token
// from the "digitalocean" entry of engineconfig.EngineConfig.Clouds.
func buildCloudDriver(_ context.Context, cfg *engineconfig.EngineConfig) (driver.CloudDriver, error) {
	creds := cfg.Clouds["digitalocean"]
	return digitalocean.NewDriver(creds.APIToken), nil
}
