package hash

import (
	"encoding/hex"
	"errors"
)

func (h Hash) marshalText() ([]byte, error) {
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h[:])
	return dst, nil
}

func (h *Hash) unmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) > len(h) {
		return errors.New("hash: text too long")
	}
	decoded := make([]byte, hex.DecodedLen(len(text)))
	if _, err := hex.Decode(decoded, text); err != nil {
		return err
	}
	*h = Hash{}
	copy(h[:], decoded)
	return nil
}
