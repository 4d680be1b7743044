package types

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// GenerateID derives a stable node id from a qualified symbol name or a file
// path. The same name always yields the same id, independent of which file
// or run produced it.
func GenerateID(name string) NodeID {
	return NodeID(int64(xxhash.Sum64String(name)))
}

// GenerateEdgeID derives a stable edge id from its endpoints and kind
func GenerateEdgeID(source, target NodeID, kind EdgeKind) EdgeID {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(source))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(target))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(kind))
	return EdgeID(int64(xxhash.Sum64(buf[:])))
}
