package dataset

import (
	"bytes"
	"encoding/json"
)

// EncodeJSON serializes records as a single JSON array.
func EncodeJSON[T any](records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	return json.Marshal(records)
}

// EncodeJSONL serializes records as JSON Lines: one record per line, trailing
// newline included.
func EncodeJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
