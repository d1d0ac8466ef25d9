package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Record is a single entity as seen by the client: an identity plus a flat
// set of fields. Field values are whatever encoding/json produces.
type Record struct {
	ID     string
	Fields map[string]any
}

// NewRecord returns a record with a private copy of fields.
func NewRecord(id string, fields map[string]any) Record {
	return Record{ID: id, Fields: copyFields(fields)}
}

// Validate checks if the Record has an identity.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Clone returns a deep-enough copy: the field map is copied, values are shared.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Fields: copyFields(r.Fields)}
}

// Merge returns a copy of r with the given fields overlaid (last write wins
// per top-level field). An "id" key in fields is ignored.
func (r Record) Merge(fields map[string]any) Record {
	out := r.Clone()
	for k, v := range fields {
		if k == "id" {
			continue
		}
		out.Fields[k] = v
	}
	return out
}

// References returns the sorted, de-duplicated string field values that look
// like temporary identities. These are the records r depends on.
func (r Record) References() []string {
	return TempReferences(r.Fields)
}

// Repoint replaces every string field equal to from with to and reports
// whether anything changed.
func (r *Record) Repoint(from, to string) bool {
	changed := false
	for k, v := range r.Fields {
		if s, ok := v.(string); ok && s == from {
			r.Fields[k] = to
			changed = true
		}
	}
	return changed
}

// MarshalJSON flattens the record into {"id": ..., field: value, ...}.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["id"] = r.ID
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat form produced by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	id, _ := flat["id"].(string)
	delete(flat, "id")
	r.ID = id
	r.Fields = flat
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	return nil
}

// TempReferences returns the sorted temporary identities found among the
// top-level string values of fields.
func TempReferences(fields map[string]any) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, v := range fields {
		s, ok := v.(string)
		if !ok || !IsTempID(s) || seen[s] {
			continue
		}
		seen[s] = true
		refs = append(refs, s)
	}
	sort.Strings(refs)
	return refs
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
