package handler

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// JSONCodec carries gRPC messages as JSON so the service needs no generated
// protobuf types.
type JSONCodec struct{}

var _ encoding.Codec = JSONCodec{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string {
	return "json"
}
