package miner

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes the challenge hash over (address, nonce, dataset).
// The concrete function is supplied by the challenge algorithm; the
// engine only requires determinism and a fixed-length digest.
type Hasher interface {
	Sum(address string, nonce uint64, dataset []byte) [32]byte
}

// datasetReads is how many dataset words one hash mixes in. Reads are at
// digest-derived offsets, so a miner cannot skip holding the full
// dataset.
const datasetReads = 8

// Blake2bHasher is the default challenge hash: a blake2b-256 seed digest
// over (address, nonce) selects pseudo-random dataset offsets, and the
// words found there are folded into a second blake2b pass.
type Blake2bHasher struct{}

func (Blake2bHasher) Sum(address string, nonce uint64, dataset []byte) [32]byte {
	var nonceBuf [8]byte
	binary.LittleEndian.PutUint64(nonceBuf[:], nonce)

	seed, _ := blake2b.New256(nil)
	seed.Write([]byte(address))
	seed.Write(nonceBuf[:])
	var seedSum [32]byte
	seed.Sum(seedSum[:0])

	final, _ := blake2b.New256(nil)
	final.Write(seedSum[:])

	if len(dataset) >= 8 {
		span := uint64(len(dataset) - 7)
		for i := 0; i < datasetReads; i++ {
			offset := binary.LittleEndian.Uint64(seedSum[(i*4)%24:]) % span
			final.Write(dataset[offset : offset+8])
		}
	}

	var out [32]byte
	final.Sum(out[:0])
	return out
}
