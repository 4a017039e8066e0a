// Package codec defines value serialization for casflight. A Codec turns the
// caller's value type V into the bytes stored by a cache provider or a
// versioned store and back.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
