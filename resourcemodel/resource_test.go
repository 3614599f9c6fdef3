package resourcemodel

import "testing"

func TestNewResourceInitializesMaps(t *testing.T) {
	r := NewResource("server_0", TypeServer, "")
	if r.Properties == nil || r.ExtraProperties == nil || r.Parameters == nil {
		t.Fatal("NewResource must initialize all maps")
	}
}

func TestResourceCloneDoesNotAlias(t *testing.T) {
	r := NewResource("net_0", TypeNetwork, "abc-123")
	r.Properties["name"] = "net0"
	r.Properties["nested"] = map[string]any{"a": 1}

	cp := r.Clone()
	cp.Properties["name"] = "changed"
	nested, _ := cp.Properties["nested"].(map[string]any)
	nested["a"] = 2

	if r.Properties["name"] != "net0" {
		t.Fatal("mutating the clone mutated the original's top-level property")
	}
	orig, _ := r.Properties["nested"].(map[string]any)
	if orig["a"] != 1 {
		t.Fatal("mutating the clone mutated the original's nested property")
	}
}

func TestResourceExistsFlag(t *testing.T) {
	r := NewResource("net_0", TypeNetwork, "abc-123")
	if r.Exists() {
		t.Fatal("new resource should not exist by default")
	}
	r.SetExists(true)
	if !r.Exists() {
		t.Fatal("expected Exists() to report true after SetExists(true)")
	}
}

func TestRebuildParametersKeepsOnlyReferenced(t *testing.T) {
	r := NewResource("server_0", TypeServer, "")
	r.Properties = map[string]any{
		"flavor": map[string]any{"get_param": "flavor_id"},
		"name":   "web-1",
		"nested": map[string]any{
			"image": map[string]any{"get_param": "image_id"},
		},
	}
	available := map[string]TemplateParameter{
		"flavor_id": {Type: "string"},
		"image_id":  {Type: "string"},
		"unused":    {Type: "string"},
	}
	r.RebuildParameters(available)

	if len(r.Parameters) != 2 {
		t.Fatalf("expected 2 parameters, got %d: %+v", len(r.Parameters), r.Parameters)
	}
	if _, ok := r.Parameters["flavor_id"]; !ok {
		t.Error("expected flavor_id to be rebuilt")
	}
	if _, ok := r.Parameters["image_id"]; !ok {
		t.Error("expected image_id to be rebuilt")
	}
	if _, ok := r.Parameters["unused"]; ok {
		t.Error("did not expect unreferenced parameter to be kept")
	}
}
