package project

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// Supported fingerprint algorithms
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

// Fingerprinter computes content digests of snapshots.
type Fingerprinter struct {
	newHash func() hash.Hash
}

// NewFingerprinter returns a fingerprinter for the named algorithm. An empty
// name selects sha256.
func NewFingerprinter(algorithm string) (*Fingerprinter, error) {
	switch algorithm {
	case "", AlgorithmSHA256:
		return &Fingerprinter{newHash: sha256.New}, nil
	case AlgorithmBLAKE3:
		return &Fingerprinter{newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("unsupported fingerprint algorithm: %s", algorithm)
	}
}

// Fingerprint feeds path bytes then content bytes of every file, in snapshot
// order, into the digest and returns it hex encoded. Each field is preceded
// by its length so that bytes cannot move between a path and a content.
func (f *Fingerprinter) Fingerprint(s Snapshot) string {
	h := f.newHash()
	for _, file := range s.files {
		writeField(h, file.Path)
		writeField(h, file.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, field string) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(field)))
	h.Write(size[:])
	h.Write([]byte(field))
}
