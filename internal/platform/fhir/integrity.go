package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CheckReferenceIntegrity verifies that every relative "ResourceType/id"
// reference used inside any entry resolves to another entry's
// (resourceType, id) pair within the same bundle. Absolute URLs and
// urn: references are outside the bundle and skipped. Run on every
// outbound bundle before send and on every inbound bundle after receive.
func CheckReferenceIntegrity(b *Bundle) error {
	known := make(map[string]bool, len(b.Entry))
	for _, e := range b.Entry {
		rt, id := entryIdentity(e)
		if rt == "" {
			return fmt.Errorf("bundle entry without resourceType")
		}
		if id != "" {
			known[rt+"/"+id] = true
		}
		if e.FullURL != "" {
			known[e.FullURL] = true
		}
	}

	for i, e := range b.Entry {
		var body interface{}
		if err := json.Unmarshal(e.Resource, &body); err != nil {
			return fmt.Errorf("entry %d: undecodable resource: %w", i, err)
		}
		for _, ref := range collectReferences(body) {
			if isExternalReference(ref) {
				continue
			}
			if !known[ref] {
				rt, _ := entryIdentity(e)
				return fmt.Errorf("entry %d (%s): reference %q does not resolve within bundle", i, rt, ref)
			}
		}
	}
	return nil
}

// collectReferences walks decoded JSON and gathers every "reference" string
// value, at any nesting depth.
func collectReferences(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if k == "reference" {
				if s, ok := child.(string); ok && s != "" {
					out = append(out, s)
					continue
				}
			}
			out = append(out, collectReferences(child)...)
		}
	case []interface{}:
		for _, child := range t {
			out = append(out, collectReferences(child)...)
		}
	}
	return out
}

// isExternalReference reports whether ref points outside the bundle:
// absolute URLs, urn:uuid / urn:oid values, and internal fragments.
func isExternalReference(ref string) bool {
	return strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://") ||
		strings.HasPrefix(ref, "urn:") ||
		strings.HasPrefix(ref, "#")
}
