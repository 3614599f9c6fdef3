// Package driver defines the narrow interface every cloud adapter
// implements (spec.md §6 "Driver interface"), split into the same four
// groups the spec names plus the standalone in-guest agent client. Grounded
// on platform.ResourceDriver's per-resource-type interface shape in the
// teacher, generalized from a single CRUD+health contract to the plan
// engine's four resource-domain contracts (compute, block, network, stack).
package driver

import (
	"context"

	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// LiveResource is what a driver returns when asked about a live-cloud
// object: its id plus whatever properties the mutation engine or template
// shaper needs (spec.md §4.3 "add"/"edit: re-extract", §4.4.1 "driver
// lookup").
type LiveResource struct {
	ID         string
	Type       resourcemodel.ResourceType
	Properties map[string]any
}

// ComputeDriver covers server, flavor, and keypair operations (spec.md §6
// "Compute").
type ComputeDriver interface {
	GetServer(ctx context.Context, id string) (*LiveResource, error)
	GetFlavor(ctx context.Context, id string) (*LiveResource, error)
	GetKeyPair(ctx context.Context, id string) (*LiveResource, error)
	ResetServerState(ctx context.Context, id, state string) error
	AttachVolume(ctx context.Context, serverID, volumeID, device string) error
	InterfaceAttach(ctx context.Context, serverID, portID string) error
	InterfaceDetach(ctx context.Context, serverID, portID string) error
	DeleteServer(ctx context.Context, id string) error
}

// BlockDriver covers volume, volume-type, and QoS operations (spec.md §6
// "Block").
type BlockDriver interface {
	GetVolume(ctx context.Context, id string) (*LiveResource, error)
	GetVolumeType(ctx context.Context, id string) (*LiveResource, error)
	GetQosSpecs(ctx context.Context, id string) (*LiveResource, error)
	SetVolumeShareable(ctx context.Context, id string, shareable bool) error
	SetVolumeBootable(ctx context.Context, id string, bootable bool) error
	DeleteVolume(ctx context.Context, id string) error
	ResetVolumeState(ctx context.Context, id, state string) error
}

// NetworkDriver covers network/subnet/port/router/security-group/floating-ip
// operations (spec.md §6 "Network").
type NetworkDriver interface {
	GetNetwork(ctx context.Context, id string) (*LiveResource, error)
	GetSubnet(ctx context.Context, id string) (*LiveResource, error)
	GetPort(ctx context.Context, id string) (*LiveResource, error)
	GetRouter(ctx context.Context, id string) (*LiveResource, error)
	GetSecurityGroup(ctx context.Context, id string) (*LiveResource, error)
	GetFloatingIP(ctx context.Context, id string) (*LiveResource, error)
	PortList(ctx context.Context, filters map[string]string) ([]LiveResource, error)
	CreatePort(ctx context.Context, networkID string, properties map[string]any) (*LiveResource, error)
	DeletePort(ctx context.Context, id string) error
	AssociateFloatingIP(ctx context.Context, floatingIPID, portID string) error
	DisassociateFloatingIP(ctx context.Context, floatingIPID string) error
}

// StackEvent is one entry of events_list (spec.md §6 "Stack engine").
type StackEvent struct {
	ResourceName string
	Status       string
	Reason       string
}

// StackDriver covers the stack-engine operations the orchestrator submits
// templates through (spec.md §6 "Stack engine").
type StackDriver interface {
	CreateStack(ctx context.Context, name string, template map[string]any, files map[string]string, disableRollback bool) (stackID string, err error)
	GetStack(ctx context.Context, stackID string) (status string, statusReason string, err error)
	DeleteStack(ctx context.Context, stackID string) error
	GetStackResource(ctx context.Context, stackID, resourceName string) (*LiveResource, error)
	GetResourceType(ctx context.Context, typeName string) (schema map[string]any, err error)
	EventsList(ctx context.Context, stackID string) ([]StackEvent, error)
}

// AgentClient is the in-guest data-copy agent's RPC surface, reached over
// HTTP/JSON against a gateway VM (spec.md §6 "Agent").
type AgentClient interface {
	GetDiskName(ctx context.Context, gwURL, deviceHint string) (string, error)
	GetDiskFormat(ctx context.Context, gwURL, diskName string) (string, error)
	GetDiskMountPoint(ctx context.Context, gwURL, diskName string) (string, error)
	ForceMountDisk(ctx context.Context, gwURL, diskName, mountPoint string) error
	CloneVolume(ctx context.Context, gwURL, srcDevice, dstDevice string) (transferID string, err error)
	GetDataTransStatus(ctx context.Context, gwURL, transferID string) (status string, progress int, err error)
}

// CloudDriver aggregates all four resource-domain contracts: one concrete
// value per cloud (driver/aws, driver/azure, driver/gcp,
// driver/digitalocean, or driver/mock) implements all four.
type CloudDriver interface {
	ComputeDriver
	BlockDriver
	NetworkDriver
	StackDriver
}

// Registry maps a resource type to the driver that should service it,
// mirroring the original's per-resource-type "resource_managers" lookup
// (conveyor/cmd/resource.py, conveyor/api/v1/services.py) used by the
// mutation engine's "add" operation to find "the appropriate driver"
// (spec.md §4.3; SPEC_FULL.md §D.5).
type Registry struct {
	byType   map[resourcemodel.ResourceType]CloudDriver
	fallback CloudDriver
}

// NewRegistry builds a Registry. fallback services any type with no
// specific override; it may be nil if every type is registered explicitly.
func NewRegistry(fallback CloudDriver) *Registry {
	return &Registry{byType: map[resourcemodel.ResourceType]CloudDriver{}, fallback: fallback}
}

// Register installs a driver override for a specific resource type,
// matching the engine config key `resource_managers` (spec.md §6).
func (r *Registry) Register(t resourcemodel.ResourceType, d CloudDriver) {
	r.byType[t] = d
}

// For returns the driver that should service resType.
func (r *Registry) For(resType resourcemodel.ResourceType) (CloudDriver, bool) {
	if d, ok := r.byType[resType]; ok {
		return d, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}
