package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec implements encoding.Codec, the pluggable (de)serializer gRPC
// uses for every message it sends. The pack carries no protoc-generated
// stubs, so the coordinator and worker gRPC services (pkg/rpc) exchange
// plain JSON-tagged Go structs instead of generated protobuf messages.
//
// Registering under the name "proto" overrides grpc-go's own default
// codec of that name, which is what every client/server picks unless a
// CallContentSubtype is set. This keeps pkg/rpc's service definitions
// free of .proto files while still running on real gRPC transport,
// streaming, and interceptors.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal rpc message: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal rpc message: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
