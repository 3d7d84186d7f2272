package protocol

import "encoding/json"

// Serializer defines the contract for serializing and deserializing wire
// envelopes. This allows downstream transports to choose their preferred
// format (JSON, Protobuf, SBE, ...) while interacting with the engine.
type Serializer interface {
	// Marshal serializes a Go struct (e.g. Event) into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a Go struct.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// DefaultJSONSerializer implements Serializer using encoding/json.
type DefaultJSONSerializer struct{}

func (s *DefaultJSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *DefaultJSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
