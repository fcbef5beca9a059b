// Package hash provides the fixed-size payload hash type used throughout
// the update engine, and a restartable streaming hasher that can be
// serialized mid-stream and resumed after a crash.
package hash

// Hash is a SHA-256 digest: exactly the 32 bytes that Hasher.Sum
// produces, with no spare room for a larger digest algorithm.
type Hash [32]byte

func (h Hash) MarshalText() ([]byte, error) {
	return h.marshalText()
}

func (h *Hash) UnmarshalText(text []byte) error {
	return h.unmarshalText(text)
}

func (h Hash) String() string {
	text, _ := h.marshalText()
	return string(text)
}

// IsZero returns true if the hash has never been set.
func (h Hash) IsZero() bool {
	return h == Hash{}
}
