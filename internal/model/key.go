package model

import jsoniter "github.com/json-iterator/go"

var keyCodec = jsoniter.Config{SortMapKeys: true}.Froze()

// JSONKey renders v as canonical JSON for de-duplication.
func JSONKey[T any](v T) string {
	s, err := keyCodec.MarshalToString(v)
	if err != nil {
		return ""
	}

	return s
}
