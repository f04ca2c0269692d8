package api

import (
	"encoding/json"
)

// mustJSON encodes params built from known types, which cannot fail.
func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
