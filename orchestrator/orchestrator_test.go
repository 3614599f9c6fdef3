package orchestrator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/driver/mock"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/planlock"
	"github.com/Hybrid-Cloud/conveyor/planstore"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

func newRes(name string, typ resourcemodel.ResourceType, id string) *resourcemodel.Resource {
	r := resourcemodel.NewResource(name, typ, id)
	return r
}

func TestSplitVolumeResourcesColdClone(t *testing.T) {
	vol := newRes("volume_0", resourcemodel.TypeVolume, "vol-1")
	volType := newRes("voltype_0", resourcemodel.TypeVolumeType, "vt-1")
	vol.Properties["volume_type"] = map[string]any{"get_resource": "voltype_0"}
	server := newRes("server_0", resourcemodel.TypeServer, "srv-1")
	net := newRes("net_0", resourcemodel.TypeNetwork, "net-1")
	resources := map[string]*resourcemodel.Resource{
		"volume_0": vol, "voltype_0": volType, "server_0": server, "net_0": net,
	}

	volumeRes, mainRes := splitVolumeResources(resources, false)

	if len(volumeRes) != 2 {
		t.Fatalf("expected both volume and volume-type isolated, got %v", volumeRes)
	}
	if _, ok := volumeRes["voltype_0"]; !ok {
		t.Fatalf("expected voltype_0 pulled in recursively, got %v", volumeRes)
	}
	if len(mainRes) != 2 {
		t.Fatalf("expected server and net left in main template, got %v", mainRes)
	}
}

func TestSplitVolumeResourcesRestrictedToSystemDisks(t *testing.T) {
	sysVol := newRes("sysvol", resourcemodel.TypeVolume, "sv-1")
	dataVol := newRes("datavol", resourcemodel.TypeVolume, "dv-1")
	server := newRes("server_0", resourcemodel.TypeServer, "srv-1")
	server.Properties["block_device_mapping_v2"] = []any{
		map[string]any{"boot_index": "0", "volume_id": map[string]any{"get_resource": "sysvol"}},
		map[string]any{"boot_index": "1", "volume_id": map[string]any{"get_resource": "datavol"}},
	}
	resources := map[string]*resourcemodel.Resource{
		"sysvol": sysVol, "datavol": dataVol, "server_0": server,
	}

	volumeRes, mainRes := splitVolumeResources(resources, true)

	if _, ok := volumeRes["sysvol"]; !ok {
		t.Fatalf("expected sysvol isolated, got %v", volumeRes)
	}
	if _, ok := mainRes["datavol"]; !ok {
		t.Fatalf("expected datavol to remain in main template, got %v", mainRes)
	}
}

func TestGatewayPoolRoundRobin(t *testing.T) {
	pool := newGatewayPool(map[string][]gatewayEndpoint{
		"az-1": {{ServerID: "a"}, {ServerID: "b"}},
	})

	first, err := pool.Allocate("az-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := pool.Allocate("az-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	third, err := pool.Allocate("az-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first.ServerID != "a" || second.ServerID != "b" || third.ServerID != "a" {
		t.Fatalf("expected round-robin a,b,a, got %s,%s,%s", first.ServerID, second.ServerID, third.ServerID)
	}
}

func TestGatewayPoolUnknownAZ(t *testing.T) {
	pool := newGatewayPool(nil)
	if _, err := pool.Allocate("az-9"); err == nil {
		t.Fatalf("expected error for unseeded AZ")
	}
}

func TestFirstFixedIP(t *testing.T) {
	ip := firstFixedIP([]any{map[string]any{"ip_address": "10.0.0.5"}})
	if ip != "10.0.0.5" {
		t.Fatalf("expected 10.0.0.5, got %q", ip)
	}
	if firstFixedIP(nil) != "" {
		t.Fatalf("expected empty string for nil input")
	}
}

// fakeAgent is a minimal driver.AgentClient fake that reports every
// transfer as immediately complete.
type fakeAgent struct{}

func (fakeAgent) GetDiskName(ctx context.Context, gwURL, deviceHint string) (string, error) {
	return "/dev/" + deviceHint, nil
}
func (fakeAgent) GetDiskFormat(ctx context.Context, gwURL, diskName string) (string, error) {
	return "ext4", nil
}
func (fakeAgent) GetDiskMountPoint(ctx context.Context, gwURL, diskName string) (string, error) {
	return "/mnt/x", nil
}
func (fakeAgent) ForceMountDisk(ctx context.Context, gwURL, diskName, mountPoint string) error {
	return nil
}
func (fakeAgent) CloneVolume(ctx context.Context, gwURL, srcDevice, dstDevice string) (string, error) {
	return "transfer-1", nil
}
func (fakeAgent) GetDataTransStatus(ctx context.Context, gwURL, transferID string) (string, int, error) {
	return "completed", 100, nil
}

var _ driver.AgentClient = fakeAgent{}

func newTestOrchestrator(t *testing.T, store planstore.Store, drv driver.CloudDriver) *Orchestrator {
	t.Helper()
	registry := driver.NewRegistry(drv)
	cfg := &engineconfig.EngineConfig{CloneDriver: "mock", CloneMigrateType: "stack", PlanFilePath: "/plans"}
	o := New(store, planlock.New(), registry, fakeAgent{}, cfg, nil, slog.New(slog.NewTextHandler(discardWriter{}, nil)))
	o.pollInterval = time.Millisecond
	return o
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCloneHappyPathNoDataCopy(t *testing.T) {
	drv := mock.New()
	store := planstore.NewInMemoryStore()
	o := newTestOrchestrator(t, store, drv)

	server := newRes("server_0", resourcemodel.TypeServer, "srv-1")
	net := newRes("net_0", resourcemodel.TypeNetwork, "net-1")
	p := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	p.UpdatedResources = map[string]*resourcemodel.Resource{"server_0": server, "net_0": net}
	p.OriginalResources = map[string]*resourcemodel.Resource{"server_0": server.Clone(), "net_0": net.Clone()}
	if err := p.TransitionTo(plan.StatusInitiating); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := p.TransitionTo(plan.StatusCreated); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := p.TransitionTo(plan.StatusAvailable); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := store.CreatePlan(context.Background(), p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	var stackID string
	done := make(chan struct{})
	go func() {
		for {
			got, err := store.GetPlan(context.Background(), p.PlanID)
			if err == nil && got.StackID != "" {
				stackID = got.StackID
				close(done)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	go func() {
		<-done
		drv.AdvanceStack(stackID, "CREATE_COMPLETE", driver.StackEvent{ResourceName: "all", Status: "CREATE_COMPLETE"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Clone(ctx, p.PlanID, "az-2", nil); err != nil {
		t.Fatalf("Clone: %v", err)
	}

	final, err := store.GetPlan(context.Background(), p.PlanID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if final.PlanStatus != plan.StatusFinished {
		t.Fatalf("expected FINISHED, got %q", final.PlanStatus)
	}
}

func TestCloneWrongPlanType(t *testing.T) {
	drv := mock.New()
	store := planstore.NewInMemoryStore()
	o := newTestOrchestrator(t, store, drv)

	p := plan.New(plan.TypeMigrate, "proj-1", "user-1", time.Hour)
	if err := store.CreatePlan(context.Background(), p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	if err := o.Clone(context.Background(), p.PlanID, "az-2", nil); err == nil {
		t.Fatalf("expected error cloning a migrate-typed plan")
	}
}
