package plan

import (
	"testing"
	"time"

	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

func TestNewAllocatesCreatingPlan(t *testing.T) {
	p := New(TypeClone, "proj-1", "user-1", time.Hour)
	if p.PlanID == "" {
		t.Fatal("expected a non-empty plan id")
	}
	if p.PlanStatus != StatusCreating {
		t.Fatalf("expected CREATING, got %q", p.PlanStatus)
	}
	if p.PlanType != TypeClone {
		t.Fatalf("expected clone, got %q", p.PlanType)
	}
}

func TestTransitionToRejectsIllegalEdge(t *testing.T) {
	p := New(TypeClone, "proj-1", "user-1", time.Hour)
	if err := p.TransitionTo(StatusFinished); err == nil {
		t.Fatal("expected error transitioning CREATING -> FINISHED directly")
	}
	if p.PlanStatus != StatusCreating {
		t.Fatal("expected status to remain unchanged after rejected transition")
	}
}

func TestTransitionToAppliesLegalEdge(t *testing.T) {
	p := New(TypeClone, "proj-1", "user-1", time.Hour)
	if err := p.TransitionTo(StatusInitiating); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PlanStatus != StatusInitiating {
		t.Fatalf("expected INITIATING, got %q", p.PlanStatus)
	}
}

func TestAppendTaskStatusRecordsHistory(t *testing.T) {
	p := New(TypeClone, "proj-1", "user-1", time.Hour)
	p.AppendTaskStatus("deploying volume sub-stack")
	p.AppendTaskStatus("main stack CREATE_IN_PROGRESS")

	if p.TaskStatus != "main stack CREATE_IN_PROGRESS" {
		t.Fatalf("expected latest task status to be current, got %q", p.TaskStatus)
	}
	if len(p.TaskStatusLog) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(p.TaskStatusLog))
	}
}

func TestRebuildDependenciesMigrateKeepsOriginalInSync(t *testing.T) {
	p := New(TypeMigrate, "proj-1", "user-1", time.Hour)
	net := resourcemodel.NewResource("net_0", resourcemodel.TypeNetwork, "")
	server := resourcemodel.NewResource("server_0", resourcemodel.TypeServer, "")
	server.Properties["network"] = map[string]any{"get_resource": "net_0"}
	p.UpdatedResources = map[string]*resourcemodel.Resource{"net_0": net, "server_0": server}

	p.RebuildDependencies()

	if len(p.UpdatedDependencies) != 2 {
		t.Fatalf("expected 2 dependency entries, got %d", len(p.UpdatedDependencies))
	}
	for name, dep := range p.UpdatedDependencies {
		if p.OriginalDependencies[name] != dep {
			t.Fatalf("expected migrate plan's original_dependencies to mirror updated_dependencies for %q", name)
		}
	}
}

func TestCloneDoesNotAliasResourceMaps(t *testing.T) {
	p := New(TypeClone, "proj-1", "user-1", time.Hour)
	net := resourcemodel.NewResource("net_0", resourcemodel.TypeNetwork, "")
	net.Properties["name"] = "net0"
	p.UpdatedResources = map[string]*resourcemodel.Resource{"net_0": net}

	cp := p.Clone()
	cp.UpdatedResources["net_0"].Properties["name"] = "changed"

	if p.UpdatedResources["net_0"].Properties["name"] != "net0" {
		t.Fatal("expected original plan's resource to be unaffected by clone mutation")
	}
}

func TestIsExpired(t *testing.T) {
	p := New(TypeClone, "proj-1", "user-1", time.Minute)
	if p.IsExpired(time.Now()) {
		t.Fatal("freshly created plan should not be expired")
	}
	if !p.IsExpired(time.Now().Add(2 * time.Minute)) {
		t.Fatal("expected plan to be expired after its expire_at")
	}
}
