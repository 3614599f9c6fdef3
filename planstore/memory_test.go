package planstore

import (
	"context"
	"testing"
	"time"

	"github.com/Hybrid-Cloud/conveyor/plan"
)

func TestInMemoryStoreCreateAndGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	p := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	got, err := s.GetPlan(ctx, p.PlanID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.PlanID != p.PlanID {
		t.Fatalf("expected plan id %q, got %q", p.PlanID, got.PlanID)
	}
}

func TestInMemoryStoreCreateDuplicateRejected(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	p := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if err := s.CreatePlan(ctx, p); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestInMemoryStoreGetMissingReturnsNotFound(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.GetPlan(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStoreGetReturnsIndependentCopy(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	p := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	got, _ := s.GetPlan(ctx, p.PlanID)
	got.TaskStatus = "mutated after read"

	got2, _ := s.GetPlan(ctx, p.PlanID)
	if got2.TaskStatus == "mutated after read" {
		t.Fatal("expected GetPlan to return a copy independent of prior reads")
	}
}

func TestInMemoryStoreListPlansFiltersByProjectAndDeleted(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	p1 := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	p2 := plan.New(plan.TypeClone, "proj-2", "user-1", time.Hour)
	p3 := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	p3.Deleted = true

	for _, p := range []*plan.Plan{p1, p2, p3} {
		if err := s.CreatePlan(ctx, p); err != nil {
			t.Fatalf("CreatePlan: %v", err)
		}
	}

	got, err := s.ListPlans(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(got) != 1 || got[0].PlanID != p1.PlanID {
		t.Fatalf("expected only p1 to be listed for proj-1, got %+v", got)
	}
}

func TestInMemoryStoreUpdatePlanRequiresExisting(t *testing.T) {
	s := NewInMemoryStore()
	p := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	if err := s.UpdatePlan(context.Background(), p); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for update of unknown plan, got %v", err)
	}
}

func TestInMemoryStoreDeletePlanRemovesSatelliteRows(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	p := plan.New(plan.TypeClone, "proj-1", "user-1", time.Hour)
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if err := s.SaveTemplate(ctx, p.PlanID, map[string]any{"heat_template_version": "2013-05-23"}); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	if err := s.SaveAZMapper(ctx, p.PlanID, map[string]string{"az1": "gw-1"}); err != nil {
		t.Fatalf("SaveAZMapper: %v", err)
	}

	if err := s.DeletePlan(ctx, p.PlanID, false); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if _, err := s.GetPlan(ctx, p.PlanID); err != ErrNotFound {
		t.Fatalf("expected plan to be gone, got %v", err)
	}
	if _, err := s.GetTemplate(ctx, p.PlanID); err != ErrNotFound {
		t.Fatalf("expected template row to be gone, got %v", err)
	}
	azMap, err := s.GetAZMapper(ctx, p.PlanID)
	if err != nil {
		t.Fatalf("GetAZMapper: %v", err)
	}
	if len(azMap) != 0 {
		t.Fatalf("expected az mapper row to be gone, got %+v", azMap)
	}
}

func TestInMemoryStoreDeletePlanToleratesMissing(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.DeletePlan(context.Background(), "missing", true); err != nil {
		t.Fatalf("expected force-delete to tolerate missing row, got %v", err)
	}
	if err := s.DeletePlan(context.Background(), "missing", false); err != ErrNotFound {
		t.Fatalf("expected ordinary delete of missing row to error, got %v", err)
	}
}

func TestInMemoryStoreClonedResourcesRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	row := ClonedResources{
		PlanID:      "plan-1",
		Destination: "aws:us-east-1",
		Relation:    map[string]any{"server_0": "i-123"},
	}
	if err := s.SaveClonedResources(ctx, row); err != nil {
		t.Fatalf("SaveClonedResources: %v", err)
	}
	got, err := s.GetClonedResources(ctx, "plan-1")
	if err != nil {
		t.Fatalf("GetClonedResources: %v", err)
	}
	if got.Destination != "aws:us-east-1" {
		t.Fatalf("unexpected destination %q", got.Destination)
	}
}
