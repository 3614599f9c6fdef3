package resourcemodel

import "testing"

func threeResourceChain() map[string]*Resource {
	net := NewResource("net_0", TypeNetwork, "")
	subnet := NewResource("subnet_0", TypeSubnet, "")
	subnet.Properties["network"] = map[string]any{"get_resource": "net_0"}
	server := NewResource("server_0", TypeServer, "")
	server.Properties["port"] = map[string]any{
		"ip": map[string]any{"get_attr": []any{"subnet_0", "fixed_ips", 0}},
	}
	return map[string]*Resource{
		"net_0":     net,
		"subnet_0":  subnet,
		"server_0":  server,
	}
}

func TestBuildDependenciesEdges(t *testing.T) {
	deps := BuildDependencies(threeResourceChain())

	if len(deps["subnet_0"].Dependencies) != 1 || deps["subnet_0"].Dependencies[0] != "net_0" {
		t.Fatalf("expected subnet_0 to depend on net_0, got %+v", deps["subnet_0"].Dependencies)
	}
	if len(deps["server_0"].Dependencies) != 1 || deps["server_0"].Dependencies[0] != "subnet_0" {
		t.Fatalf("expected server_0 to depend on subnet_0 via get_attr, got %+v", deps["server_0"].Dependencies)
	}
	if len(deps["net_0"].Dependencies) != 0 {
		t.Fatalf("expected net_0 to have no dependencies, got %+v", deps["net_0"].Dependencies)
	}
}

func TestBuildDependenciesIgnoresReferencesOutsideMap(t *testing.T) {
	resources := map[string]*Resource{
		"server_0": func() *Resource {
			r := NewResource("server_0", TypeServer, "")
			r.Properties["network"] = map[string]any{"get_resource": "not_in_plan"}
			return r
		}(),
	}
	deps := BuildDependencies(resources)
	if len(deps["server_0"].Dependencies) != 0 {
		t.Fatalf("expected dangling reference to be excluded from edges, got %+v", deps["server_0"].Dependencies)
	}
}

func TestRebuildDependenciesIsIdempotentOnUnchangedKeySet(t *testing.T) {
	resources := threeResourceChain()
	first := BuildDependencies(resources)

	// Mutate a property without changing the resource-name key set: the
	// idempotence guard must trust the stored map rather than recompute.
	resources["server_0"].Properties["extra"] = "changed"
	second := RebuildDependencies(resources, first)

	if len(second["server_0"].Dependencies) != len(first["server_0"].Dependencies) {
		t.Fatal("expected RebuildDependencies to return the stored map unchanged")
	}
	for name := range first {
		if second[name] != first[name] {
			t.Fatalf("expected RebuildDependencies to return the exact stored entries for %q", name)
		}
	}
}

func TestRebuildDependenciesRecomputesOnKeySetChange(t *testing.T) {
	resources := threeResourceChain()
	first := BuildDependencies(resources)

	delete(resources, "server_0")
	second := RebuildDependencies(resources, first)

	if _, ok := second["server_0"]; ok {
		t.Fatal("expected server_0 to be absent after recompute following deletion")
	}
	if len(second) != 2 {
		t.Fatalf("expected recomputed map to have 2 entries, got %d", len(second))
	}
}

func TestValidateDAGDetectsCycle(t *testing.T) {
	a := NewResource("a", TypeServer, "")
	a.Properties["ref"] = map[string]any{"get_resource": "b"}
	b := NewResource("b", TypeServer, "")
	b.Properties["ref"] = map[string]any{"get_resource": "a"}

	resources := map[string]*Resource{"a": a, "b": b}
	deps := BuildDependencies(resources)

	cycle := ValidateDAG(deps)
	if cycle == nil {
		t.Fatal("expected a cycle to be detected between a and b")
	}
}

func TestValidateDAGAcceptsWellFormedGraph(t *testing.T) {
	deps := BuildDependencies(threeResourceChain())
	if cycle := ValidateDAG(deps); cycle != nil {
		t.Fatalf("expected no cycle, got %+v", cycle)
	}
}

func TestValidateReferencesFindsDangling(t *testing.T) {
	resources := map[string]*Resource{
		"server_0": func() *Resource {
			r := NewResource("server_0", TypeServer, "")
			r.Properties["network"] = map[string]any{"get_resource": "missing_net"}
			return r
		}(),
	}
	dangling := ValidateReferences(resources)
	if len(dangling) != 1 || dangling[0].Target != "missing_net" {
		t.Fatalf("expected one dangling reference to missing_net, got %+v", dangling)
	}
}

func TestValidateReferencesCleanGraph(t *testing.T) {
	dangling := ValidateReferences(threeResourceChain())
	if len(dangling) != 0 {
		t.Fatalf("expected no dangling references, got %+v", dangling)
	}
}
