package resourcemodel

import "sort"

// ResourceDependency records which other local resource names a resource's
// property tree references (spec.md §3 "ResourceDependency").
type ResourceDependency struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	NameInTemplate string       `json:"name_in_template"`
	Type           ResourceType `json:"type"`
	Dependencies   []string     `json:"dependencies"`
}

// AddDependency appends res_name if not already present, mirroring
// ResourceDependency.add_dependency in the original.
func (d *ResourceDependency) AddDependency(resName string) {
	for _, existing := range d.Dependencies {
		if existing == resName {
			return
		}
	}
	d.Dependencies = append(d.Dependencies, resName)
}

// BuildDependencies computes the dependency map from scratch: for every
// resource, every get_resource and get_attr[0] reference in its property
// tree that names another resource in the same map becomes an edge
// (spec.md §3 "ResourceDependency", §4.1).
func BuildDependencies(resources map[string]*Resource) map[string]*ResourceDependency {
	out := make(map[string]*ResourceDependency, len(resources))
	for name, res := range resources {
		dep := &ResourceDependency{
			Name:           resourceTemplateName(res),
			NameInTemplate: name,
			Type:           res.Type,
			ID:             res.ID,
			Dependencies:   []string{},
		}
		walkReferences(res.Properties, func(ref Reference) {
			if ref.Kind != RefResource && ref.Kind != RefAttr {
				return
			}
			if _, ok := resources[ref.Target]; ok {
				dep.AddDependency(ref.Target)
			}
		})
		out[name] = dep
	}
	return out
}

// RebuildDependencies applies the idempotence rule from spec.md §4.1 and
// SPEC_FULL.md §D.2 ("Rebuilding dependencies is idempotent"): if the set of
// resource names is unchanged from the existing dependency map's keys, the
// stored map is trusted and returned as-is; otherwise it is recomputed from
// scratch. Grounded on conveyor/resource/resource.py rebuild_dependencies.
func RebuildDependencies(resources map[string]*Resource, existing map[string]*ResourceDependency) map[string]*ResourceDependency {
	if len(resources) == 0 {
		return existing
	}
	if len(resources) == len(existing) {
		same := true
		for name := range resources {
			if _, ok := existing[name]; !ok {
				same = false
				break
			}
		}
		if same {
			return existing
		}
	}
	return BuildDependencies(resources)
}

func resourceTemplateName(res *Resource) string {
	if n, ok := res.Properties["name"].(string); ok {
		return n
	}
	return ""
}

// ValidateDAG checks that the dependency graph contains no cycles
// (spec.md §4.1: "cycles cause the import to fail with a validation error
// naming the offending resources"). It returns the ordered list of resource
// names that form the first cycle found, or nil if the graph is acyclic.
func ValidateDAG(deps map[string]*ResourceDependency) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var cyclePath []string

	var names []string
	for n := range deps {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic traversal order for reproducible error messages

	var visit func(name string, path []string) bool
	visit = func(name string, path []string) bool {
		switch color[name] {
		case black:
			return false
		case gray:
			// Found the cycle: trim path to start at the repeated node.
			start := 0
			for i, p := range path {
				if p == name {
					start = i
					break
				}
			}
			cyclePath = append(append([]string{}, path[start:]...), name)
			return true
		}
		color[name] = gray
		path = append(path, name)
		dep, ok := deps[name]
		if ok {
			targets := append([]string{}, dep.Dependencies...)
			sort.Strings(targets)
			for _, next := range targets {
				if _, exists := deps[next]; !exists {
					continue
				}
				if visit(next, path) {
					return true
				}
			}
		}
		color[name] = black
		return false
	}

	for _, n := range names {
		if color[n] == white {
			if visit(n, nil) {
				return cyclePath
			}
		}
	}
	return nil
}

// ValidateReferences checks invariant 1 from spec.md §3: every get_resource
// reference in any resource's property tree names a key of the same
// resource map. It returns the list of (resourceName, missingTarget) pairs
// found, empty if the plan is well-formed.
type DanglingReference struct {
	ResourceName string
	Target       string
}

func ValidateReferences(resources map[string]*Resource) []DanglingReference {
	var out []DanglingReference
	var names []string
	for n := range resources {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		res := resources[name]
		walkReferences(res.Properties, func(ref Reference) {
			if ref.Kind != RefResource {
				return
			}
			if _, ok := resources[ref.Target]; !ok {
				out = append(out, DanglingReference{ResourceName: name, Target: ref.Target})
			}
		})
	}
	return out
}
