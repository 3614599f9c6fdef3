package orchestrator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/Hybrid-Cloud/conveyor/driver/mock"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

func TestMarkPreexistingSetsExists(t *testing.T) {
	net := newRes("net_0", resourcemodel.TypeNetwork, "net-1")
	other := newRes("net_1", resourcemodel.TypeNetwork, "net-2")
	resources := map[string]*resourcemodel.Resource{"net_0": net, "net_1": other}

	markPreexisting(resources, map[string]bool{"net_0": true, "net_1": false, "missing": true})

	if !resources["net_0"].Exists() {
		t.Fatal("expected net_0 to be marked pre-existing")
	}
	if resources["net_1"].Exists() {
		t.Fatal("did not expect net_1 to be marked pre-existing")
	}
}

func TestClearMigratePortDetachesAndClearsField(t *testing.T) {
	drv := mock.New()
	server := newRes("server_0", resourcemodel.TypeServer, "srv-1")
	server.ExtraProperties["migrate_port_id"] = "port-1"
	p := &plan.Plan{OriginalResources: map[string]*resourcemodel.Resource{"server_0": server}}

	o := &Orchestrator{logger: slog.New(slog.NewTextHandler(discardWriter{}, nil))}
	o.clearMigratePort(context.Background(), drv, p)

	if _, ok := server.ExtraProperties["migrate_port_id"]; ok {
		t.Fatal("expected migrate_port_id to be cleared after successful detach")
	}
}

func TestClearMigratePortSkipsServersWithoutMigratePort(t *testing.T) {
	drv := mock.New()
	server := newRes("server_0", resourcemodel.TypeServer, "srv-1")
	p := &plan.Plan{OriginalResources: map[string]*resourcemodel.Resource{"server_0": server}}

	o := &Orchestrator{logger: slog.New(slog.NewTextHandler(discardWriter{}, nil))}
	o.clearMigratePort(context.Background(), drv, p)

	if len(server.ExtraProperties) != 0 {
		t.Fatalf("expected no extra properties touched, got %v", server.ExtraProperties)
	}
}
