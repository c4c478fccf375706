package service

import "encoding/json"

// Record is the façade's view of a stored blob.
type Record struct {
	ID   string
	URI  string
	Size int

	// MediaType and Content are available to in-process callers only.
	MediaType string
	Content   []byte

	idField string
	idOnly  bool
}

// Fields returns the record as presented to callers: the id under the
// configured field name, plus uri and size unless the blob was removed.
func (r Record) Fields() map[string]any {
	field := r.idField
	if field == "" {
		field = DefaultIDField
	}
	out := map[string]any{field: r.ID}
	if !r.idOnly {
		out["uri"] = r.URI
		out["size"] = r.Size
	}
	return out
}

// MarshalJSON encodes Fields.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields())
}
