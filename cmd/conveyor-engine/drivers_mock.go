//go:build !aws && !azure && !gcp && !digitalocean

package main

import (
	"context"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/driver/mock"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
)

// buildCloudDriver is the default build: an in-process mock, useful for
// local/dev runs and as the fallback when no cloud build tag is set. A
// production binary is built with one of the aws/azure/gcp/digitalocean
// tags instead (see driver/aws, driver/azure, driver/gcp,
// driver/digitalocean build-tag comments).
func buildCloudDriver(_ context.Context, _ *engineconfig.EngineConfig) (driver.CloudDriver, error) {
	return mock.New(), nil
}
