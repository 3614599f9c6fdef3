package mock

import (
	"context"
	"testing"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

func TestExtractReturnsSeededObject(t *testing.T) {
	d := New()
	d.Seed(&driver.LiveResource{ID: "live-vol-1", Type: resourcemodel.TypeVolume, Properties: map[string]any{"size": 10}})

	res, deps, err := d.Extract(context.Background(), resourcemodel.TypeVolume, "live-vol-1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.ID != "live-vol-1" || res.Properties["size"] != 10 {
		t.Fatalf("unexpected resource %+v", res)
	}
	if len(deps) != 0 {
		t.Fatalf("expected no deps, got %v", deps)
	}
}

func TestExtractUnknownIDFails(t *testing.T) {
	d := New()
	if _, _, err := d.Extract(context.Background(), resourcemodel.TypeVolume, "missing"); err == nil {
		t.Fatal("expected error for unseeded id")
	}
}

func TestAllocationPoolsParsesSeededSubnet(t *testing.T) {
	d := New()
	d.Seed(&driver.LiveResource{
		ID:   "subnet-1",
		Type: resourcemodel.TypeSubnet,
		Properties: map[string]any{
			"allocation_pools": []any{map[string]any{"start": "10.0.0.2", "end": "10.0.0.254"}},
		},
	})

	pools, err := d.AllocationPools(context.Background(), "subnet-1")
	if err != nil {
		t.Fatalf("AllocationPools: %v", err)
	}
	if len(pools) != 1 || pools[0].Start != "10.0.0.2" || pools[0].End != "10.0.0.254" {
		t.Fatalf("unexpected pools %+v", pools)
	}
}

func TestStackLifecycle(t *testing.T) {
	d := New()
	id, err := d.CreateStack(context.Background(), "stack-1", map[string]any{}, nil, true)
	if err != nil {
		t.Fatalf("CreateStack: %v", err)
	}
	status, _, err := d.GetStack(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStack: %v", err)
	}
	if status != "CREATE_IN_PROGRESS" {
		t.Fatalf("expected CREATE_IN_PROGRESS, got %q", status)
	}

	d.AdvanceStack(id, "CREATE_COMPLETE", driver.StackEvent{ResourceName: "server_0", Status: "CREATE_COMPLETE"})
	status, _, err = d.GetStack(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStack: %v", err)
	}
	if status != "CREATE_COMPLETE" {
		t.Fatalf("expected CREATE_COMPLETE, got %q", status)
	}

	events, err := d.EventsList(context.Background(), id)
	if err != nil {
		t.Fatalf("EventsList: %v", err)
	}
	if len(events) != 1 || events[0].ResourceName != "server_0" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestFloatingIPAssociation(t *testing.T) {
	d := New()
	d.Seed(&driver.LiveResource{ID: "fip-1", Type: resourcemodel.TypeFloatingIP, Properties: map[string]any{}})

	if err := d.AssociateFloatingIP(context.Background(), "fip-1", "port-1"); err != nil {
		t.Fatalf("AssociateFloatingIP: %v", err)
	}
	live, err := d.GetFloatingIP(context.Background(), "fip-1")
	if err != nil {
		t.Fatalf("GetFloatingIP: %v", err)
	}
	if live.Properties["port_id"] != "port-1" {
		t.Fatalf("expected port_id to be set, got %+v", live.Properties)
	}

	if err := d.DisassociateFloatingIP(context.Background(), "fip-1"); err != nil {
		t.Fatalf("DisassociateFloatingIP: %v", err)
	}
	live, _ = d.GetFloatingIP(context.Background(), "fip-1")
	if live.Properties["port_id"] != "" {
		t.Fatalf("expected port_id to be cleared, got %+v", live.Properties)
	}
}
