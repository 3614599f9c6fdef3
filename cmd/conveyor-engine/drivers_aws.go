//go:build aws

package main

import (
	"context"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/driver/aws"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
)

// buildCloudDriver wires the Amazon EC2 adapter, reading its region from
// the "aws" entry of engineconfig.EngineConfig.Clouds.
func buildCloudDriver(ctx context.Context, cfg *engineconfig.EngineConfig) (driver.CloudDriver, error) {
	creds := cfg.Clouds["aws"]
	return aws.NewDriver(ctx, creds.Region)
}
