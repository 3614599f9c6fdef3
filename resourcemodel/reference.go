package resourcemodel

import "fmt"

// RefKind distinguishes the three reference shapes a property tree leaf can
// take (spec.md §3, §4.1).
type RefKind int

const (
	RefResource RefKind = iota
	RefParam
	RefAttr
)

// Reference is a single {get_resource}/{get_param}/{get_attr} leaf found
// while walking a property tree.
type Reference struct {
	Kind     RefKind
	Target   string   // local resource name (RefResource, RefAttr) or parameter name (RefParam)
	AttrPath []string // remaining path segments after the resource name, for RefAttr
}

// walkReferences performs the depth-first traversal described in spec.md
// §4.1: a single-key map whose key is one of the three reference keywords is
// a leaf reference and is not recursed into further; any other map or list
// node is recursed. Grounded on conveyor/resource/resource.py
// rebuild_dependencies' get_dependencies nested function, generalized to
// also report get_param leaves (used by RebuildParameters).
func walkReferences(node any, visit func(Reference)) {
	switch t := node.(type) {
	case map[string]any:
		if len(t) == 1 {
			for k, v := range t {
				switch k {
				case "get_resource":
					if s, ok := v.(string); ok {
						visit(Reference{Kind: RefResource, Target: s})
						return
					}
				case "get_param":
					if s, ok := v.(string); ok {
						visit(Reference{Kind: RefParam, Target: s})
						return
					}
				case "get_attr":
					if lst, ok := v.([]any); ok && len(lst) >= 1 {
						if s, ok := lst[0].(string); ok {
							visit(Reference{Kind: RefAttr, Target: s, AttrPath: toStringSlice(lst[1:])})
							return
						}
					}
				}
				// Not (or malformed as) a reference keyword: keep walking the
				// single value, same as the original's recursive fallthrough.
				walkReferences(v, visit)
				return
			}
		}
		for _, v := range t {
			walkReferences(v, visit)
		}
	case []any:
		for _, v := range t {
			walkReferences(v, visit)
		}
	}
}

func toStringSlice(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

// ForEachReference walks node depth-first and invokes visit for every
// get_resource/get_param/get_attr leaf found, in the same traversal order as
// dependency-graph construction. Exported so callers outside this package
// (e.g. the mutation engine's reference-scanning checks) don't need to
// reimplement tree-walking.
func ForEachReference(node any, visit func(Reference)) {
	walkReferences(node, visit)
}

// IsReferenceNode reports whether node is itself a single-key reference map,
// and if so returns the parsed Reference.
func IsReferenceNode(node any) (Reference, bool) {
	var found Reference
	ok := false
	m, isMap := node.(map[string]any)
	if !isMap || len(m) != 1 {
		return Reference{}, false
	}
	for k, v := range m {
		switch k {
		case "get_resource":
			if s, ok2 := v.(string); ok2 {
				return Reference{Kind: RefResource, Target: s}, true
			}
		case "get_param":
			if s, ok2 := v.(string); ok2 {
				return Reference{Kind: RefParam, Target: s}, true
			}
		case "get_attr":
			if lst, ok2 := v.([]any); ok2 && len(lst) >= 1 {
				if s, ok3 := lst[0].(string); ok3 {
					return Reference{Kind: RefAttr, Target: s, AttrPath: toStringSlice(lst[1:])}, true
				}
			}
		}
	}
	return found, ok
}
