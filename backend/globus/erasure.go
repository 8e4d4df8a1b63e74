package globus

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"fmt"
	"log/slog"

	"github.com/klauspost/reedsolomon"
)

// stripeMetaSize is 1 byte of trailing-zero-pad count + a 16-byte md5, the
// per-shard metadata an erasure-striped write records alongside its data
// shards so a later read can detect and repair a corrupted disk.
const stripeMetaSize = 17

// erasureCoder wraps a Reed-Solomon encoder/decoder pair, used by a Node
// configured with more than one Disk to stripe a put across disks with
// parity instead of writing a single plain copy. Grounded on the
// teacher's fs/erasure package.
type erasureCoder struct {
	dataShards   int
	parityShards int
	codec        reedsolomon.Encoder
}

func newErasureCoder(dataShards, parityShards int) (*erasureCoder, error) {
	if dataShards+parityShards > 256 {
		return nil, fmt.Errorf("globus: sum of data and parity shards cannot exceed 256")
	}
	codec, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &erasureCoder{dataShards: dataShards, parityShards: parityShards, codec: codec}, nil
}

// encode splits data into dataShards+parityShards shards and fills in
// parity, returning the shards plus per-shard metadata for later
// corruption detection.
func (e *erasureCoder) encode(data []byte) (shards [][]byte, meta [][]byte, err error) {
	shards, err = e.codec.Split(data)
	if err != nil {
		return nil, nil, err
	}
	if err := e.codec.Encode(shards); err != nil {
		return nil, nil, err
	}
	meta = make([][]byte, len(shards))
	for i := range shards {
		meta[i] = e.shardMeta(len(data), shards, i)
	}
	return shards, meta, nil
}

func (e *erasureCoder) shardMeta(dataSize int, shards [][]byte, idx int) []byte {
	checksum := md5.Sum(shards[idx])
	m := make([]byte, stripeMetaSize)
	if dataSize%e.dataShards != 0 {
		m[0] = byte(e.dataShards - dataSize%e.dataShards)
	}
	copy(m[1:], checksum[:])
	return m
}

// decode reassembles the original data from shards, reconstructing any
// nil or checksum-mismatched shard first.
func (e *erasureCoder) decode(shards [][]byte, meta [][]byte) ([]byte, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("globus: no shards to decode")
	}
	ok, _ := e.codec.Verify(shards)
	if !ok {
		slog.Info("globus: shard verification failed, reconstructing")
		if err := e.reconstructMissing(shards); err != nil {
			return nil, err
		}
		if ok, _ = e.codec.Verify(shards); !ok {
			if err := e.reconstructCorrupted(shards, meta); err != nil {
				return nil, fmt.Errorf("globus: could not reconstruct shards: %w", err)
			}
		}
	}

	var b bytes.Buffer
	w := bufio.NewWriter(&b)
	dataSize := len(shards[0]) * e.dataShards
	if err := e.codec.Join(w, shards, dataSize); err != nil {
		return nil, fmt.Errorf("globus: join shards: %w", err)
	}
	w.Flush()
	pad := int(meta[0][0])
	out := make([]byte, b.Len()-pad)
	copy(out, b.Bytes())
	return out, nil
}

func (e *erasureCoder) reconstructMissing(shards [][]byte) error {
	need := make([]bool, len(shards))
	for i, s := range shards {
		if s == nil {
			need[i] = true
		}
	}
	return e.codec.ReconstructSome(shards, need)
}

func (e *erasureCoder) reconstructCorrupted(shards [][]byte, meta [][]byte) error {
	corrupted := false
	for i, s := range shards {
		want := meta[i][1:]
		got := md5.Sum(s)
		if !bytes.Equal(want, got[:]) {
			shards[i] = nil
			corrupted = true
		}
	}
	if !corrupted {
		return fmt.Errorf("globus: shards failed verification but none failed checksum")
	}
	if err := e.codec.Reconstruct(shards); err != nil {
		return err
	}
	ok, err := e.codec.Verify(shards)
	if !ok {
		return err
	}
	return nil
}
