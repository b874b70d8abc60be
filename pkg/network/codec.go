package network

import (
	"encoding/json"
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/wire"
)

func decodeJSON[T any](body []byte) (T, error) {
	var v T
	if len(body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("network: decode frame body: %w", err)
	}
	return v, nil
}

func encodeJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// decodeDataFrame unwraps a wire-encoded Data frame body into the fields
// a handler forwards to a registered partition.
func decodeDataFrame(body []byte) (*DataBuffer, error) {
	f, err := wire.DecodeDataFrame(body)
	if err != nil {
		return nil, fmt.Errorf("network: decode data frame: %w", err)
	}
	return &DataBuffer{Header: f.Header, Payload: f.Payload, Children: f.Children}, nil
}
