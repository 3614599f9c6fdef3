//go:build gcp

package main

import (
	"context"
	"os"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/driver/gcp"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
)

// buildCloudDriver wires the Google Compute Engine adapter. It honors an
// explicit service-account key file from the "gcp" entry of
// engineconfig.EngineConfig.Clouds, falling back to the default
// application-credentials chain gcp.NewDriver already uses when unset.
func buildCloudDriver(ctx context.Context, cfg *engineconfig.EngineConfig) (driver.CloudDriver, error) {
	creds := cfg.Clouds["gcp"]
	if creds.ServiceAccountKeyFile != "" {
		if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", creds.ServiceAccountKeyFile); err != nil {
			return nil, err
		}
	}
	return gcp.NewDriver(ctx, creds.ProjectID)
}
