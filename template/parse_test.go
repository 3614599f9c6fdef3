package template

import (
	"testing"

	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

func TestParseAssignsFreshIDWhenMissing(t *testing.T) {
	tmpl := &Template{
		HeatTemplateVersion: HeatTemplateVersion,
		Resources: map[string]TemplateResource{
			"net_0": {Type: string(resourcemodel.TypeNetwork), Properties: map[string]any{"name": "net0"}},
		},
	}
	resources, err := Parse(tmpl)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if resources["net_0"].ID == "" {
		t.Fatal("expected a fresh id to be assigned")
	}
}

func TestParsePreservesExplicitID(t *testing.T) {
	tmpl := &Template{
		Resources: map[string]TemplateResource{
			"net_0": {
				Type:            string(resourcemodel.TypeNetwork),
				Properties:      map[string]any{"name": "net0"},
				ExtraProperties: map[string]any{"id": "live-net-123"},
			},
		},
	}
	resources, err := Parse(tmpl)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if resources["net_0"].ID != "live-net-123" {
		t.Fatalf("expected preserved id, got %q", resources["net_0"].ID)
	}
	if _, ok := resources["net_0"].ExtraProperties["id"]; ok {
		t.Fatal("expected id to be stripped from extra_properties")
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	tmpl := &Template{
		Resources: map[string]TemplateResource{
			"thing_0": {Type: "OS::Bogus::Thing"},
		},
	}
	if _, err := Parse(tmpl); err == nil {
		t.Fatal("expected error for unknown resource type")
	}
}

func TestParseRejectsDanglingReference(t *testing.T) {
	tmpl := &Template{
		Resources: map[string]TemplateResource{
			"server_0": {
				Type:       string(resourcemodel.TypeServer),
				Properties: map[string]any{"network": map[string]any{"get_resource": "missing_net"}},
			},
		},
	}
	if _, err := Parse(tmpl); err == nil {
		t.Fatal("expected error for dangling get_resource reference")
	}
}

func TestParseRejectsCycle(t *testing.T) {
	tmpl := &Template{
		Resources: map[string]TemplateResource{
			"a": {Type: string(resourcemodel.TypeServer), Properties: map[string]any{"ref": map[string]any{"get_resource": "b"}}},
			"b": {Type: string(resourcemodel.TypeServer), Properties: map[string]any{"ref": map[string]any{"get_resource": "a"}}},
		},
	}
	if _, err := Parse(tmpl); err == nil {
		t.Fatal("expected error for dependency cycle")
	}
}

func TestParseRebuildsParametersFromTemplate(t *testing.T) {
	tmpl := &Template{
		Parameters: map[string]resourcemodel.TemplateParameter{
			"flavor_id": {Type: "string"},
		},
		Resources: map[string]TemplateResource{
			"server_0": {
				Type:       string(resourcemodel.TypeServer),
				Properties: map[string]any{"flavor": map[string]any{"get_param": "flavor_id"}},
			},
		},
	}
	resources, err := Parse(tmpl)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := resources["server_0"].Parameters["flavor_id"]; !ok {
		t.Fatal("expected flavor_id parameter to be rebuilt onto the resource")
	}
}
