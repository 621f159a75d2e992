package model

import (
	"encoding/json"
	"fmt"
)

// Document is one entry of a collection snapshot, represents a JSON object.
//
//	"_id" field is the source document ID.
//	"updatedAt" field orders the snapshot.
type Document map[string]interface{}

// GetID renders the "_id" field as a string. Returns "" when absent.
func (doc Document) GetID() string {
	switch id := doc["_id"].(type) {
	case nil:
		return ""
	case string:
		return id
	case map[string]interface{}:
		// relaxed extended JSON ObjectID
		if oid, ok := id["$oid"].(string); ok {
			return oid
		}
		return fmt.Sprint(id)
	case interface{ Hex() string }:
		return id.Hex()
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

func (doc Document) HasKey(key string) bool {
	_, exists := doc[key]
	return exists
}

// Clone returns a deep copy made through a JSON round trip, so nested maps and
// slices share nothing with the original.
func (doc Document) Clone() (Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
