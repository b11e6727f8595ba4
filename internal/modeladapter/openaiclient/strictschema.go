package openaiclient

import "sort"

// strictify adapts a research-domain schema (one of supervisor's or
// summarize's flat structured-output schemas — objects of string, boolean
// and array properties, never a oneOf/anyOf branch) into the closed, fully-required
// shape the Responses API's strict json_schema mode demands: every object
// gets additionalProperties:false, and every property not already in
// required is folded in as a nullable field instead.
//
// Only object and array nodes recurse; this engine never emits a schema
// with anyOf/oneOf/allOf or tuple-style prefixItems, so unlike a
// general-purpose schema normalizer this one doesn't handle them.
func strictify(node any) any {
	switch n := node.(type) {
	case map[string]any:
		if items, ok := n["items"]; ok {
			n["items"] = strictify(items)
		}
		props, ok := n["properties"].(map[string]any)
		if !ok {
			return n
		}
		for name, prop := range props {
			props[name] = strictify(prop)
		}
		n["additionalProperties"] = false
		n["required"] = closeRequired(props, n["required"])
		return n
	case []any:
		for i := range n {
			n[i] = strictify(n[i])
		}
		return n
	default:
		return node
	}
}

// closeRequired returns a required list covering every key in props,
// nullifying (in place, via makeNullable) any property that wasn't
// already required.
func closeRequired(props map[string]any, existing any) []any {
	already := map[string]bool{}
	if raw, ok := existing.([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				already[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	required := make([]any, 0, len(names))
	for _, name := range names {
		if !already[name] {
			props[name] = makeNullable(props[name])
		}
		required = append(required, name)
	}
	return required
}

// makeNullable widens a property's declared type to also accept null,
// since strict mode requires every property to be present but an
// optional field has no other way to mean "absent".
func makeNullable(prop any) any {
	m, ok := prop.(map[string]any)
	if !ok {
		return map[string]any{"anyOf": []any{prop, map[string]any{"type": "null"}}}
	}

	switch t := m["type"].(type) {
	case string:
		if t != "null" {
			m["type"] = []any{t, "null"}
		}
		return m
	case []any:
		for _, v := range t {
			if s, _ := v.(string); s == "null" {
				return m
			}
		}
		m["type"] = append(t, "null")
		return m
	}
	return m
}
