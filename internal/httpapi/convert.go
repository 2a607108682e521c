package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts a JSON-shaped response value into a protobuf Struct.
// Field names follow the JSON tags, so both encodings carry the same keys.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}

	return structpb.NewStruct(m)
}

// fromStruct decodes a protobuf Struct into v through its JSON tags,
// rejecting unknown fields like the JSON path does.
func fromStruct(st *structpb.Struct, v any) error {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	return dec.Decode(v)
}
