package mutation

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// registryExtractor is a minimal DriverRegistry entry: it only implements
// Extractor, embedding a nil driver.CloudDriver for the rest of the
// interface since these tests never call those methods.
type registryExtractor struct {
	driver.CloudDriver
	resources map[string]*resourcemodel.Resource
}

func (r *registryExtractor) Extract(ctx context.Context, resType resourcemodel.ResourceType, liveID string) (*resourcemodel.Resource, map[string]*resourcemodel.Resource, error) {
	res, ok := r.resources[liveID]
	if !ok {
		return nil, nil, errNotFound(liveID)
	}
	return res.Clone(), nil, nil
}

type fakeRegistry struct {
	byType map[resourcemodel.ResourceType]driver.CloudDriver
}

func (f *fakeRegistry) For(resType resourcemodel.ResourceType) (driver.CloudDriver, bool) {
	d, ok := f.byType[resType]
	return d, ok
}

type fakeExtractor struct {
	resources map[string]*resourcemodel.Resource // keyed by live id
	deps      map[string]map[string]*resourcemodel.Resource
}

func (f *fakeExtractor) Extract(ctx context.Context, resType resourcemodel.ResourceType, liveID string) (*resourcemodel.Resource, map[string]*resourcemodel.Resource, error) {
	res, ok := f.resources[liveID]
	if !ok {
		return nil, nil, errNotFound(liveID)
	}
	return res.Clone(), f.deps[liveID], nil
}

type errNotFound string

func (e errNotFound) Error() string { return "live id not found: " + string(e) }

func clonePlan(resources map[string]*resourcemodel.Resource) *plan.Plan {
	p := plan.New(plan.TypeClone, "proj", "user", 0)
	p.UpdatedResources = resources
	p.UpdatedDependencies = resourcemodel.BuildDependencies(resources)
	p.OriginalResources = resources
	p.OriginalDependencies = p.UpdatedDependencies
	return p
}

func netResource(name string) *resourcemodel.Resource {
	return resourcemodel.NewResource(name, resourcemodel.TypeNetwork, uuid.NewString())
}

func subnetResource(name, network string) *resourcemodel.Resource {
	r := resourcemodel.NewResource(name, resourcemodel.TypeSubnet, uuid.NewString())
	r.Properties["network"] = map[string]any{"get_resource": network}
	r.Properties["allocation_pools"] = []any{
		map[string]any{"start": "10.0.0.2", "end": "10.0.0.254"},
	}
	return r
}

func portResource(name, network, subnet, ip string) *resourcemodel.Resource {
	r := resourcemodel.NewResource(name, resourcemodel.TypePort, uuid.NewString())
	r.Properties["network"] = map[string]any{"get_resource": network}
	r.Properties["fixed_ips"] = []any{
		map[string]any{"subnet": map[string]any{"get_resource": subnet}, "ip_address": ip},
	}
	return r
}

func serverResource(name string, ports ...string) *resourcemodel.Resource {
	r := resourcemodel.NewResource(name, resourcemodel.TypeServer, uuid.NewString())
	var networks []any
	for _, port := range ports {
		networks = append(networks, map[string]any{"port": map[string]any{"get_resource": port}})
	}
	r.Properties["networks"] = networks
	return r
}

func TestApplyDeleteRefusedWhenReferenced(t *testing.T) {
	net := netResource("net_0")
	sub := subnetResource("subnet_0", "net_0")
	resources := map[string]*resourcemodel.Resource{"net_0": net, "subnet_0": sub}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{Action: ActionDelete, ResourceName: "net_0"}})
	if err == nil {
		t.Fatal("expected delete of referenced network to be rejected")
	}
	if _, ok := p.UpdatedResources["net_0"]; !ok {
		t.Fatal("network should not have been removed")
	}
}

func TestApplyDeleteCascadesOrphans(t *testing.T) {
	net := netResource("net_0")
	sub := subnetResource("subnet_0", "net_0")
	port := portResource("port_0", "net_0", "subnet_0", "10.0.0.5")
	resources := map[string]*resourcemodel.Resource{"net_0": net, "subnet_0": sub, "port_0": port}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	if err := eng.Apply(context.Background(), p, []Edit{{Action: ActionDelete, ResourceName: "port_0"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, name := range []string{"port_0", "subnet_0", "net_0"} {
		if _, ok := p.UpdatedResources[name]; ok {
			t.Fatalf("expected %q to be garbage-collected", name)
		}
	}
}

func TestApplyAddExtractsAndMerges(t *testing.T) {
	p := clonePlan(map[string]*resourcemodel.Resource{})
	newVol := resourcemodel.NewResource("vol_new", resourcemodel.TypeVolume, "live-vol-1")

	extractor := &fakeExtractor{resources: map[string]*resourcemodel.Resource{"live-vol-1": newVol}}
	eng := NewEngine(extractor, nil)

	err := eng.Apply(context.Background(), p, []Edit{{
		Action:       ActionAdd,
		ResourceName: "vol_new",
		ResourceType: resourcemodel.TypeVolume,
		SourceID:     "live-vol-1",
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	added, ok := p.UpdatedResources["vol_new"]
	if !ok {
		t.Fatal("expected vol_new to be added")
	}
	if added.ID != "live-vol-1" {
		t.Fatalf("unexpected id %q", added.ID)
	}
}

func TestApplyAddRoutesThroughRegistry(t *testing.T) {
	p := clonePlan(map[string]*resourcemodel.Resource{})
	newVol := resourcemodel.NewResource("vol_new", resourcemodel.TypeVolume, "live-vol-1")

	registry := &fakeRegistry{byType: map[resourcemodel.ResourceType]driver.CloudDriver{
		resourcemodel.TypeVolume: &registryExtractor{resources: map[string]*resourcemodel.Resource{"live-vol-1": newVol}},
	}}
	eng := NewEngine(nil, nil).WithRegistry(registry)

	err := eng.Apply(context.Background(), p, []Edit{{
		Action:       ActionAdd,
		ResourceName: "vol_new",
		ResourceType: resourcemodel.TypeVolume,
		SourceID:     "live-vol-1",
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := p.UpdatedResources["vol_new"]; !ok {
		t.Fatal("expected vol_new to be added via the registry-routed extractor")
	}
}

func TestApplyAddFallsBackWhenRegistryHasNoOverride(t *testing.T) {
	p := clonePlan(map[string]*resourcemodel.Resource{})
	newVol := resourcemodel.NewResource("vol_new", resourcemodel.TypeVolume, "live-vol-1")
	extractor := &fakeExtractor{resources: map[string]*resourcemodel.Resource{"live-vol-1": newVol}}

	registry := &fakeRegistry{byType: map[resourcemodel.ResourceType]driver.CloudDriver{}}
	eng := NewEngine(extractor, nil).WithRegistry(registry)

	err := eng.Apply(context.Background(), p, []Edit{{
		Action:       ActionAdd,
		ResourceName: "vol_new",
		ResourceType: resourcemodel.TypeVolume,
		SourceID:     "live-vol-1",
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := p.UpdatedResources["vol_new"]; !ok {
		t.Fatal("expected vol_new to be added via the fallback extractor")
	}
}

func TestApplyEditServerUserData(t *testing.T) {
	server := resourcemodel.NewResource("server_0", resourcemodel.TypeServer, uuid.NewString())
	p := clonePlan(map[string]*resourcemodel.Resource{"server_0": server})

	userData := "#!/bin/sh\necho hi\n"
	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{
		Action: ActionEdit, ResourceName: "server_0", UserData: &userData,
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.UpdatedResources["server_0"].Properties["user_data"] != userData {
		t.Fatal("expected user_data to be updated")
	}
}

func TestApplyEditServerRejectsOtherFields(t *testing.T) {
	server := resourcemodel.NewResource("server_0", resourcemodel.TypeServer, uuid.NewString())
	p := clonePlan(map[string]*resourcemodel.Resource{"server_0": server})

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{Action: ActionEdit, ResourceName: "server_0"}})
	if err == nil {
		t.Fatal("expected edit with no fields set to be rejected")
	}
}

func TestApplyEditPortRejectsIPOutsidePool(t *testing.T) {
	net := netResource("net_0")
	sub := subnetResource("subnet_0", "net_0")
	port := portResource("port_0", "net_0", "subnet_0", "10.0.0.5")
	resources := map[string]*resourcemodel.Resource{"net_0": net, "subnet_0": sub, "port_0": port}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{
		Action:       ActionEdit,
		ResourceName: "port_0",
		FixedIPs:     []FixedIP{{SubnetName: "subnet_0", IP: "192.168.1.5"}},
	}})
	if err == nil {
		t.Fatal("expected out-of-pool ip to be rejected")
	}
	if !strings.Contains(err.Error(), "allocation pools") {
		t.Fatalf("expected allocation-pool error, got %v", err)
	}
}

func TestApplyEditPortAcceptsIPInsidePool(t *testing.T) {
	net := netResource("net_0")
	sub := subnetResource("subnet_0", "net_0")
	port := portResource("port_0", "net_0", "subnet_0", "10.0.0.5")
	resources := map[string]*resourcemodel.Resource{"net_0": net, "subnet_0": sub, "port_0": port}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{
		Action:       ActionEdit,
		ResourceName: "port_0",
		FixedIPs:     []FixedIP{{SubnetName: "subnet_0", IP: "10.0.0.9"}},
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.UpdatedResources["port_0"].ID != "" {
		t.Fatal("expected port id to be invalidated after fixed_ips edit")
	}
}

func TestApplyEditPortRejectsCountMismatch(t *testing.T) {
	net := netResource("net_0")
	sub := subnetResource("subnet_0", "net_0")
	port := portResource("port_0", "net_0", "subnet_0", "10.0.0.5")
	resources := map[string]*resourcemodel.Resource{"net_0": net, "subnet_0": sub, "port_0": port}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{
		Action:       ActionEdit,
		ResourceName: "port_0",
		FixedIPs:     []FixedIP{{SubnetName: "subnet_0", IP: "10.0.0.9"}, {SubnetName: "subnet_0", IP: "10.0.0.10"}},
	}})
	if err == nil {
		t.Fatal("expected fixed_ips count mismatch to be rejected")
	}
}

func TestApplyEditNetworkRejectsDuplicatePorts(t *testing.T) {
	net := netResource("net_0")
	otherNet := netResource("net_1")
	sub := subnetResource("subnet_0", "net_0")
	port0 := portResource("port_0", "net_0", "subnet_0", "10.0.0.5")
	port1 := portResource("port_1", "net_0", "subnet_0", "10.0.0.6")
	server := serverResource("server_0", "port_0", "port_1")

	resources := map[string]*resourcemodel.Resource{
		"net_0": net, "net_1": otherNet, "subnet_0": sub,
		"port_0": port0, "port_1": port1, "server_0": server,
	}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{
		Action:         ActionEdit,
		ResourceName:   "net_0",
		NewID:          "live-net-new",
		NewSubnetNames: []string{"subnet_0"},
	}})
	if err == nil {
		t.Fatal("expected duplicate-network swap to be rejected")
	}
	if !strings.Contains(err.Error(), "Duplicate networks") {
		t.Fatalf("expected duplicate networks error, got %v", err)
	}
}

func TestApplyEditNetworkAllowsDistinctNetworkPorts(t *testing.T) {
	net := netResource("net_0")
	otherNet := netResource("net_1")
	sub := subnetResource("subnet_0", "net_0")
	port0 := portResource("port_0", "net_0", "subnet_0", "10.0.0.5")
	port1 := portResource("port_1", "net_1", "subnet_0", "10.0.0.6")
	server := serverResource("server_0", "port_0", "port_1")

	resources := map[string]*resourcemodel.Resource{
		"net_0": net, "net_1": otherNet, "subnet_0": sub,
		"port_0": port0, "port_1": port1, "server_0": server,
	}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{
		Action:         ActionEdit,
		ResourceName:   "net_0",
		NewID:          "live-net-new",
		NewSubnetNames: []string{"subnet_0"},
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.UpdatedResources["net_0"].ID != "live-net-new" {
		t.Fatal("expected network id to be swapped")
	}
}

func TestApplyEditOnMigratePlanRejected(t *testing.T) {
	server := resourcemodel.NewResource("server_0", resourcemodel.TypeServer, uuid.NewString())
	resources := map[string]*resourcemodel.Resource{"server_0": server}
	p := plan.New(plan.TypeMigrate, "proj", "user", 0)
	p.UpdatedResources = resources

	userData := "x"
	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{Action: ActionEdit, ResourceName: "server_0", UserData: &userData}})
	if err == nil {
		t.Fatal("expected edits on a migrate plan to be rejected")
	}
}

func TestApplyEditKeyPairSwapsID(t *testing.T) {
	kp := resourcemodel.NewResource("keypair_0", resourcemodel.TypeKeyPair, "live-kp-old")
	resources := map[string]*resourcemodel.Resource{"keypair_0": kp}
	p := clonePlan(resources)

	newKP := resourcemodel.NewResource("keypair_0", resourcemodel.TypeKeyPair, "live-kp-new")
	newKP.Properties["public_key"] = "ssh-rsa AAAA..."
	extractor := &fakeExtractor{resources: map[string]*resourcemodel.Resource{"live-kp-new": newKP}}
	eng := NewEngine(extractor, nil)

	err := eng.Apply(context.Background(), p, []Edit{{Action: ActionEdit, ResourceName: "keypair_0", NewID: "live-kp-new"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.UpdatedResources["keypair_0"].ID != "live-kp-new" {
		t.Fatal("expected keypair id to be swapped")
	}
}

func TestApplyEditFloatingIPRejectsBoundPort(t *testing.T) {
	fip := resourcemodel.NewResource("fip_0", resourcemodel.TypeFloatingIP, uuid.NewString())
	fip.Properties["port_id"] = "bound-port-1"
	resources := map[string]*resourcemodel.Resource{"fip_0": fip}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{Action: ActionEdit, ResourceName: "fip_0", NewID: "live-fip-new"}})
	if err == nil {
		t.Fatal("expected bound floating ip swap to be rejected")
	}
}

func TestApplyEditVolumeMarksExists(t *testing.T) {
	vol := resourcemodel.NewResource("volume_0", resourcemodel.TypeVolume, "live-vol-old")
	resources := map[string]*resourcemodel.Resource{"volume_0": vol}
	p := clonePlan(resources)

	newVol := resourcemodel.NewResource("volume_0", resourcemodel.TypeVolume, "live-vol-new")
	extractor := &fakeExtractor{resources: map[string]*resourcemodel.Resource{"live-vol-new": newVol}}
	eng := NewEngine(extractor, nil)

	err := eng.Apply(context.Background(), p, []Edit{{Action: ActionEdit, ResourceName: "volume_0", NewID: "live-vol-new"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !p.UpdatedResources["volume_0"].Exists() {
		t.Fatal("expected volume to be marked as existing after swap")
	}
}

func TestApplyEditUnknownResourceType(t *testing.T) {
	flavor := resourcemodel.NewResource("flavor_0", resourcemodel.TypeFlavor, uuid.NewString())
	resources := map[string]*resourcemodel.Resource{"flavor_0": flavor}
	p := clonePlan(resources)

	eng := NewEngine(nil, nil)
	err := eng.Apply(context.Background(), p, []Edit{{Action: ActionEdit, ResourceName: "flavor_0", NewID: "x"}})
	if err == nil {
		t.Fatal("expected edit on an unsupported resource type to be rejected")
	}
}
