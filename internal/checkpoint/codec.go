// Package checkpoint persists training state so a run can resume without
// repeating completed epochs.
//
// A checkpoint file is laid out as
//
//	magic[8] | version uint16 | sha256(payload)[32] | len(compressed) uint32 | snappy(payload)
//
// where payload is the JSON encoded bundle. Decode rejects any file whose
// header, digest or structure does not check out.
package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/snappy"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// Bundle is the unit of persistence.
type Bundle = models.CheckpointBundle

var (
	// ErrNotFound is matched by errors.Is when no checkpoint exists for a key.
	ErrNotFound = errors.ErrCheckpointNotFound
	// ErrCorrupt is matched by errors.Is when a stored checkpoint cannot be trusted.
	ErrCorrupt = errors.ErrCheckpointCorrupt
)

const headerSize = len(constants.CheckpointMagic) + 2 + sha256.Size + 4

// Key returns the storage key of a family/dataset pair.
func Key(family, dataset string) string {
	return fmt.Sprintf("%s_%s", family, dataset)
}

// Encode validates and serializes a bundle.
func Encode(b *Bundle) ([]byte, error) {
	if err := Validate(b); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeCheckpoint, errors.CodeCheckpointWrite,
			"failed to serialize checkpoint")
	}
	digest := sha256.Sum256(payload)
	compressed := snappy.Encode(nil, payload)

	var buf bytes.Buffer
	buf.Grow(headerSize + len(compressed))
	buf.WriteString(constants.CheckpointMagic)
	binary.Write(&buf, binary.BigEndian, uint16(constants.CheckpointVersion))
	buf.Write(digest[:])
	binary.Write(&buf, binary.BigEndian, uint32(len(compressed)))
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// Decode parses and verifies a serialized bundle. Every failure matches ErrCorrupt.
func Decode(data []byte) (*Bundle, error) {
	if len(data) < headerSize {
		return nil, corrupt(fmt.Sprintf("file is %d bytes, shorter than the %d byte header", len(data), headerSize))
	}
	magicLen := len(constants.CheckpointMagic)
	if string(data[:magicLen]) != constants.CheckpointMagic {
		return nil, corrupt("bad magic")
	}
	version := binary.BigEndian.Uint16(data[magicLen:])
	if version != constants.CheckpointVersion {
		return nil, corrupt(fmt.Sprintf("unsupported format version %d", version))
	}
	var digest [sha256.Size]byte
	copy(digest[:], data[magicLen+2:])
	size := binary.BigEndian.Uint32(data[magicLen+2+sha256.Size:])
	body := data[headerSize:]
	if uint32(len(body)) != size {
		return nil, corrupt(fmt.Sprintf("payload is %d bytes, header says %d", len(body), size))
	}

	payload, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, corrupt("payload does not decompress").WithDetails(err.Error())
	}
	if sha256.Sum256(payload) != digest {
		return nil, corrupt("digest mismatch")
	}

	var b Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, corrupt("payload is not a checkpoint").WithDetails(err.Error())
	}
	if err := Validate(&b); err != nil {
		return nil, corrupt("inconsistent checkpoint").WithDetails(err.Error())
	}
	return &b, nil
}

// Validate checks the internal consistency of a bundle: parameter shapes,
// optimizer moments against parameters, and the history trail.
func Validate(b *Bundle) error {
	if b == nil {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch, "bundle is nil")
	}
	if b.Family == "" {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch, "bundle has no family")
	}
	if len(b.Params) == 0 {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch, "bundle has no parameters")
	}

	sizes := make(map[string]int, len(b.Params))
	for _, p := range b.Params {
		if _, dup := sizes[p.Name]; dup {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("parameter %q appears twice", p.Name))
		}
		if p.Rows <= 0 || p.Cols <= 0 || len(p.Values) != p.Rows*p.Cols {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("parameter %q has %d values for shape %dx%d", p.Name, len(p.Values), p.Rows, p.Cols))
		}
		for _, v := range p.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
					fmt.Sprintf("parameter %q holds a non-finite value", p.Name))
			}
		}
		sizes[p.Name] = len(p.Values)
	}

	for name, m := range b.Optimizer.Moments {
		n, ok := sizes[name]
		if !ok {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("optimizer moments for unknown parameter %q", name))
		}
		if len(m.M) != n || len(m.V) != n || m.Step < 0 {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("optimizer moments for %q do not match its size %d", name, n))
		}
	}

	if b.Scheduler.StepSize <= 0 {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch, "scheduler step size must be positive")
	}

	prev := -1
	for _, r := range b.History {
		if r.Epoch <= prev {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("history epoch %d follows %d", r.Epoch, prev))
		}
		prev = r.Epoch
	}
	if len(b.History) > 0 && prev != b.Epoch {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
			fmt.Sprintf("last history epoch %d does not match bundle epoch %d", prev, b.Epoch))
	}
	return nil
}

func corrupt(message string) *errors.AppError {
	return errors.NewCheckpointError(errors.CodeCheckpointCorrupt, message).WithCause(ErrCorrupt)
}

func notFound(key string) *errors.AppError {
	return errors.NewCheckpointError(errors.CodeCheckpointNotFound,
		fmt.Sprintf("no checkpoint stored under %q", key)).WithCause(ErrNotFound)
}
