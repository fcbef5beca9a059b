package payload

import (
	"fmt"

	"github.com/Cloud-Foundations/abupdate/lib/hash"
	"github.com/Cloud-Foundations/abupdate/lib/manifest"
	"github.com/Cloud-Foundations/abupdate/lib/sign"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

type state int

const (
	stateHeaderBase state = iota
	stateHeaderSig
	stateManifest
	stateSignature
	stateOperations
	stateDone
)

// OperationSink receives the raw byte stream for one operation's data,
// in order, as it arrives. The partitionIndex/opIndex identify the
// operation within the parsed Manifest.
type OperationSink interface {
	WriteOperationData(partitionIndex, opIndex int, data []byte) error
}

// Parser consumes one Payload's raw byte stream incrementally (as fed by
// a lib/fetcher.Delegate) and drives it through header validation,
// manifest decode, metadata signature verification and operation-data
// streaming, maintaining a running whole-payload hash throughout.
type Parser struct {
	certBundle *sign.CertificateBundle
	sink       OperationSink
	expectHash hash.Hash

	state   state
	pending []byte // bytes accumulated for the current fixed/length-prefixed step

	// baseOffset is the payload-stream byte offset this parser instance
	// started at (non-zero only after Resume), and consumedTotal is how
	// many bytes this instance itself has consumed since then; their sum
	// is the absolute stream offset recorded in a saved Cursor.
	baseOffset    int64
	consumedTotal int64

	hdr      header
	manifest *update.Manifest

	hasher *hash.Hasher

	partitionIndex int
	opIndex        int
	bytesIntoOp    int64
}

// NewParser returns a Parser that verifies the manifest's metadata
// signature against certBundle and expects the complete payload to hash
// to expectHash, routing operation bytes to sink.
func NewParser(certBundle *sign.CertificateBundle, expectHash hash.Hash, sink OperationSink) *Parser {
	return &Parser{
		certBundle: certBundle,
		sink:       sink,
		expectHash: expectHash,
		state:      stateHeaderBase,
		hasher:     hash.NewHasher(),
	}
}

// Resume returns a Parser already positioned at the operation-data step,
// for restarting a partially-applied payload from a persisted
// update.ProgressCursor (spec.md sec.4.2's resumability requirement).
// header/manifest/signature replay is skipped entirely: the fetcher is
// expected to resume the byte stream starting at the operation-data
// offset recorded in the cursor.
func Resume(certBundle *sign.CertificateBundle, expectHash hash.Hash, sink OperationSink,
	m *update.Manifest, cursor update.ProgressCursor) (*Parser, error) {
	h, err := hash.RestoreHasher(cursor.HasherState)
	if err != nil {
		return nil, classify(update.DownloadStateInitializationError, err)
	}
	return &Parser{
		certBundle:     certBundle,
		sink:           sink,
		expectHash:     expectHash,
		state:          stateOperations,
		baseOffset:     cursor.StreamOffset,
		manifest:       m,
		hasher:         h,
		partitionIndex: cursor.PartitionIndex,
		opIndex:        cursor.OperationIndex,
		bytesIntoOp:    cursor.BytesIntoOp,
	}, nil
}

// Manifest returns the decoded manifest, once the manifest step has
// completed. It is nil before that.
func (p *Parser) Manifest() *update.Manifest {
	return p.manifest
}

// Cursor captures the parser's current resume point.
func (p *Parser) Cursor(payloadIndex int) (update.ProgressCursor, error) {
	state, err := p.hasher.Marshal()
	if err != nil {
		return update.ProgressCursor{}, err
	}
	return update.ProgressCursor{
		PayloadIndex:   payloadIndex,
		PartitionIndex: p.partitionIndex,
		OperationIndex: p.opIndex,
		BytesIntoOp:    p.bytesIntoOp,
		HasherState:    state,
		StreamOffset:   p.baseOffset + p.consumedTotal,
	}, nil
}

// Feed processes the next chunk of the payload's raw byte stream. It may
// be called repeatedly with arbitrarily-sized chunks, including chunks
// that straddle a step boundary.
func (p *Parser) Feed(data []byte) error {
	if _, err := p.hasher.Write(data); err != nil {
		return classify(update.DownloadWriteError, err)
	}
	for len(data) > 0 && p.state != stateDone {
		var consumed int
		var err error
		switch p.state {
		case stateHeaderBase:
			consumed, err = p.feedHeaderBase(data)
		case stateHeaderSig:
			consumed, err = p.feedHeaderSig(data)
		case stateManifest:
			consumed, err = p.feedManifest(data)
		case stateSignature:
			consumed, err = p.feedSignature(data)
		case stateOperations:
			consumed, err = p.feedOperations(data)
		}
		if err != nil {
			return err
		}
		if consumed == 0 {
			break
		}
		data = data[consumed:]
		p.consumedTotal += int64(consumed)
	}
	return nil
}

func (p *Parser) feedHeaderBase(data []byte) (int, error) {
	need := headerBaseLen - len(p.pending)
	n := min(need, len(data))
	p.pending = append(p.pending, data[:n]...)
	if len(p.pending) < headerBaseLen {
		return n, nil
	}
	version, manifestSize, err := parseHeaderBase(p.pending)
	if err != nil {
		return n, classify(update.PayloadHeaderInvalid, err)
	}
	p.hdr = header{Version: version, ManifestSize: manifestSize}
	p.pending = nil
	if version >= 2 {
		p.state = stateHeaderSig
	} else {
		p.state = stateManifest
	}
	return n, nil
}

func (p *Parser) feedHeaderSig(data []byte) (int, error) {
	need := headerSigLenBytes - len(p.pending)
	n := min(need, len(data))
	p.pending = append(p.pending, data[:n]...)
	if len(p.pending) < headerSigLenBytes {
		return n, nil
	}
	sigSize, err := parseHeaderSig(p.pending)
	if err != nil {
		return n, classify(update.PayloadHeaderInvalid, err)
	}
	p.hdr.MetadataSigSize = sigSize
	p.pending = nil
	p.state = stateManifest
	return n, nil
}

func (p *Parser) feedManifest(data []byte) (int, error) {
	need := int(p.hdr.ManifestSize) - len(p.pending)
	n := min(need, len(data))
	p.pending = append(p.pending, data[:n]...)
	if len(p.pending) < int(p.hdr.ManifestSize) {
		return n, nil
	}
	m, err := manifest.Decode(p.pending)
	if err != nil {
		return n, classify(update.DownloadManifestParseError, err)
	}
	p.manifest = m
	p.pending = nil
	if p.hdr.MetadataSigSize == 0 {
		p.state = stateOperations
	} else {
		p.state = stateSignature
	}
	return n, nil
}

func (p *Parser) feedSignature(data []byte) (int, error) {
	need := int(p.hdr.MetadataSigSize) - len(p.pending)
	n := min(need, len(data))
	p.pending = append(p.pending, data[:n]...)
	if len(p.pending) < int(p.hdr.MetadataSigSize) {
		return n, nil
	}
	if p.certBundle != nil {
		encoded := manifest.Encode(p.manifest)
		if err := p.certBundle.Verify(encoded, p.pending); err != nil {
			return n, classify(update.PayloadMetadataSignatureError, err)
		}
	}
	p.pending = nil
	p.state = stateOperations
	return n, nil
}

// feedOperations walks past as many exhausted operations/partitions as
// necessary before consuming from data, so an operation boundary falling
// exactly on a Feed call's edge (the common case coming out of Resume)
// never gets stuck returning zero progress with unconsumed data still
// waiting.
func (p *Parser) feedOperations(data []byte) (int, error) {
	for {
		if p.manifest == nil || p.partitionIndex >= len(p.manifest.Partitions) {
			p.state = stateDone
			return 0, nil
		}
		partition := p.manifest.Partitions[p.partitionIndex]
		if p.opIndex >= len(partition.Operations) {
			p.partitionIndex++
			p.opIndex = 0
			p.bytesIntoOp = 0
			continue
		}
		op := partition.Operations[p.opIndex]
		remaining := op.DataLength - p.bytesIntoOp
		if remaining <= 0 {
			p.opIndex++
			p.bytesIntoOp = 0
			continue
		}
		n := int64(len(data))
		if n > remaining {
			n = remaining
		}
		if n > 0 {
			// A sink failure (source-slot mismatch, partition-writer
			// error, ...) is returned as-is: the sink already classifies
			// its own errors, and the caller (cmd/update-engine's
			// unwrapStepErr) unwraps whichever StepError type it is.
			if err := p.sink.WriteOperationData(p.partitionIndex, p.opIndex, data[:n]); err != nil {
				return int(n), err
			}
		}
		p.bytesIntoOp += n
		return int(n), nil
	}
}

// Finish must be called once the fetcher reports the transfer complete.
// It verifies the accumulated whole-payload hash and that every
// operation across every partition has been fully streamed.
func (p *Parser) Finish() error {
	if p.state != stateOperations && p.state != stateDone {
		return classify(update.PayloadHeaderInvalid, fmt.Errorf("payload: truncated before operation data"))
	}
	if got := p.hasher.Sum(); got != p.expectHash {
		return classify(update.PayloadHashMismatchError,
			fmt.Errorf("payload: hash mismatch: got %s want %s", got, p.expectHash))
	}
	if p.state == stateOperations {
		// Walk past any trailing operations with no data left to stream;
		// anything still short of its data means the stream was cut.
		if _, err := p.feedOperations(nil); err != nil {
			return err
		}
		if p.state != stateDone {
			return classify(update.PayloadSizeMismatchError, fmt.Errorf("payload: operation data truncated"))
		}
	}
	p.state = stateDone
	return nil
}

