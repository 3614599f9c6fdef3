package resourcemodel

import "testing"

func TestWalkReferencesFindsAllKinds(t *testing.T) {
	tree := map[string]any{
		"network": map[string]any{"get_resource": "net_0"},
		"flavor":  map[string]any{"get_param": "flavor_id"},
		"fixed_ip": map[string]any{
			"get_attr": []any{"port_0", "fixed_ips", 0, "ip_address"},
		},
		"literal": "unchanged",
		"list": []any{
			map[string]any{"get_resource": "subnet_0"},
			"plain",
		},
	}

	var refs []Reference
	walkReferences(tree, func(r Reference) { refs = append(refs, r) })

	var sawNet0, sawFlavor, sawAttr, sawSubnet0 bool
	for _, r := range refs {
		switch {
		case r.Kind == RefResource && r.Target == "net_0":
			sawNet0 = true
		case r.Kind == RefParam && r.Target == "flavor_id":
			sawFlavor = true
		case r.Kind == RefAttr && r.Target == "port_0":
			sawAttr = true
			if len(r.AttrPath) != 3 || r.AttrPath[0] != "fixed_ips" {
				t.Errorf("unexpected attr path: %+v", r.AttrPath)
			}
		case r.Kind == RefResource && r.Target == "subnet_0":
			sawSubnet0 = true
		}
	}
	if !sawNet0 || !sawFlavor || !sawAttr || !sawSubnet0 {
		t.Fatalf("missing expected references, got: %+v", refs)
	}
}

func TestWalkReferencesRecursesIntoNonKeywordSingleKeyMaps(t *testing.T) {
	tree := map[string]any{
		"wrapper": map[string]any{
			"inner": map[string]any{"get_resource": "server_0"},
		},
	}
	var refs []Reference
	walkReferences(tree, func(r Reference) { refs = append(refs, r) })
	if len(refs) != 1 || refs[0].Target != "server_0" {
		t.Fatalf("expected to find server_0 through nested single-key map, got %+v", refs)
	}
}

func TestIsReferenceNode(t *testing.T) {
	ref, ok := IsReferenceNode(map[string]any{"get_resource": "net_0"})
	if !ok || ref.Kind != RefResource || ref.Target != "net_0" {
		t.Fatalf("expected get_resource node to be detected, got %+v %v", ref, ok)
	}
	if _, ok := IsReferenceNode(map[string]any{"plain": "value"}); ok {
		t.Fatal("plain map should not be detected as a reference node")
	}
	if _, ok := IsReferenceNode("scalar"); ok {
		t.Fatal("scalar should not be detected as a reference node")
	}
}
