package resourcemodel

// TemplateParameter describes one entry of a Resource's or Plan's parameters
// map (spec.md §3: "a mapping from parameter name to {type, description,
// default}").
type TemplateParameter struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Resource is a typed template element that denotes a cloud object to be
// recreated (spec.md §3, GLOSSARY). Properties is a tree whose leaves are
// either literals or references ({get_resource}, {get_param}, {get_attr}).
type Resource struct {
	Name            string                        `json:"name"`
	Type            ResourceType                  `json:"type"`
	ID              string                        `json:"id"`
	Properties      map[string]any                `json:"properties"`
	ExtraProperties map[string]any                `json:"extra_properties,omitempty"`
	Parameters      map[string]TemplateParameter  `json:"parameters,omitempty"`
}

// NewResource builds a Resource with initialized maps, mirroring the
// original's Resource.__init__ defaulting of nil maps to empty ones
// (conveyor/resource/resource.py).
func NewResource(name string, typ ResourceType, id string) *Resource {
	return &Resource{
		Name:            name,
		Type:            typ,
		ID:              id,
		Properties:      map[string]any{},
		ExtraProperties: map[string]any{},
		Parameters:      map[string]TemplateParameter{},
	}
}

// Clone returns a deep-enough copy of the resource: the property/extra
// property trees are copied via deepCopyValue so edits on the clone never
// alias the original (the mutation engine relies on this when staging an
// edit before committing it).
func (r *Resource) Clone() *Resource {
	cp := &Resource{
		Name: r.Name,
		Type: r.Type,
		ID:   r.ID,
	}
	cp.Properties, _ = deepCopyValue(r.Properties).(map[string]any)
	if cp.Properties == nil {
		cp.Properties = map[string]any{}
	}
	cp.ExtraProperties, _ = deepCopyValue(r.ExtraProperties).(map[string]any)
	if cp.ExtraProperties == nil {
		cp.ExtraProperties = map[string]any{}
	}
	cp.Parameters = make(map[string]TemplateParameter, len(r.Parameters))
	for k, v := range r.Parameters {
		cp.Parameters[k] = v
	}
	return cp
}

// Exists reports whether extra_properties.exist is true: the resource is
// bound by parameter and must not be rebuilt during deployment (spec.md §3
// invariant 4).
func (r *Resource) Exists() bool {
	v, ok := r.ExtraProperties["exist"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetExists sets extra_properties.exist.
func (r *Resource) SetExists(v bool) {
	if r.ExtraProperties == nil {
		r.ExtraProperties = map[string]any{}
	}
	r.ExtraProperties["exist"] = v
}

// AddParameter registers a template parameter, mirroring
// Resource.add_parameter in the original.
func (r *Resource) AddParameter(name string, p TemplateParameter) {
	if r.Parameters == nil {
		r.Parameters = map[string]TemplateParameter{}
	}
	r.Parameters[name] = p
}

// RebuildParameters recomputes r.Parameters from scratch by walking the
// property tree for {get_param: name} references and looking each up in
// available (conveyor/resource/resource.py rebuild_parameter; see
// SPEC_FULL.md §D.1). Names not present in available are skipped rather than
// erroring: a template may reference parameters supplied only at the stack
// engine's own layer.
func (r *Resource) RebuildParameters(available map[string]TemplateParameter) {
	r.Parameters = map[string]TemplateParameter{}
	walkReferences(r.Properties, func(ref Reference) {
		if ref.Kind != RefParam {
			return
		}
		if p, ok := available[ref.Target]; ok {
			r.Parameters[ref.Target] = p
		}
	})
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}
