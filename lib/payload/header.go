// Package payload implements the payload parser state machine named by
// spec.md sec.4.2: header validation, manifest decode, metadata
// signature verification (before any destination write), and streaming
// operation-data with a running whole-payload hash.
//
// Grounded on sub/client/fetch.go's streaming response-to-disk loop,
// generalized into an explicit state machine so it can be fed bytes
// incrementally by lib/fetcher.Delegate, and on lib/manifest/lib/sign for
// the two parse/verify substeps.
package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// magic is the fixed 4-byte tag every payload must begin with.
var magic = [4]byte{'A', 'B', 'U', 'P'}

const (
	// maxMetadataSize bounds the manifest size accepted from an
	// untrusted header, so a corrupt or hostile payload cannot force an
	// unbounded allocation.
	maxMetadataSize = 256 << 20

	// maxSignatureSize bounds the detached-signature size similarly.
	maxSignatureSize = 64 << 10

	// headerBaseLen covers magic, version and manifest size, the part of
	// the header present in every version. MetadataSigSize is a version
	// 2+ addition (spec.md sec.4.2) and is parsed separately once the
	// version is known.
	headerBaseLen = len(magic) + 8 + 8

	headerSigLenBytes = 4
)

// minHeaderVersion/maxHeaderVersion bound the set of header versions this
// parser recognizes; anything outside it fails closed with
// update.PayloadHeaderInvalid rather than guessing at a layout.
const (
	minHeaderVersion = 1
	maxHeaderVersion = 2
)

// header is the fixed-size prologue of a payload, before the manifest.
type header struct {
	Version         uint64
	ManifestSize    uint64
	MetadataSigSize uint32
}

// parseHeaderBase validates and decodes the version-independent prefix of
// the header: magic, version and manifest size. It returns the decoded
// version and manifest size so the caller can decide whether a
// version-2+ MetadataSigSize field follows.
func parseHeaderBase(buf []byte) (version, manifestSize uint64, err error) {
	if len(buf) < headerBaseLen {
		return 0, 0, fmt.Errorf("payload: short header: %d bytes", len(buf))
	}
	if [4]byte(buf[:4]) != magic {
		return 0, 0, fmt.Errorf("payload: bad magic %q", buf[:4])
	}
	version = binary.BigEndian.Uint64(buf[4:12])
	if version < minHeaderVersion || version > maxHeaderVersion {
		return 0, 0, fmt.Errorf("payload: unrecognized header version %d", version)
	}
	manifestSize = binary.BigEndian.Uint64(buf[12:20])
	if manifestSize == 0 || manifestSize > maxMetadataSize {
		return 0, 0, fmt.Errorf("payload: manifest size %d out of bounds", manifestSize)
	}
	return version, manifestSize, nil
}

// parseHeaderSig validates and decodes the version-2+ MetadataSigSize
// field, read as its own step once the version is known to require it.
func parseHeaderSig(buf []byte) (uint32, error) {
	if len(buf) < headerSigLenBytes {
		return 0, fmt.Errorf("payload: short metadata signature length: %d bytes", len(buf))
	}
	sigSize := binary.BigEndian.Uint32(buf[:headerSigLenBytes])
	if sigSize > maxSignatureSize {
		return 0, fmt.Errorf("payload: metadata signature size %d out of bounds", sigSize)
	}
	return sigSize, nil
}

// classify wraps a lower-level error as the spec-named terminal code for
// the step that produced it.
func classify(code update.ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Code: code, Err: err}
}

// StepError pairs a parser failure with the terminal ErrorCode the
// attempter should classify and report (spec.md sec.4.8).
type StepError struct {
	Code update.ErrorCode
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("payload: %s: %v", e.Code, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
