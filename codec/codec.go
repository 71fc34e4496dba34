// Package codec converts cached values to and from the byte payloads that
// handles store. Handles never see value types; serialization lives entirely
// here.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
