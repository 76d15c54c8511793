package core

import "fmt"

// FileInfo is the checksum and size of one published chunk file.
// Zero means unknown (manifests written before sizes were recorded).
type FileInfo struct {
	Checksum uint64
	Size     uint64
}

// ChunkRef is the immutable metadata of one on-disk chunk.
type ChunkRef struct {
	ReplicaID     string
	ChunkID       string
	StartSequence uint64
	NumRecords    uint64

	SSTable FileInfo
	CSTable FileInfo
	Summary FileInfo
}

// Key is the identity of the chunk across replicas.
func (c ChunkRef) Key() string {
	return c.ReplicaID + "." + c.ChunkID
}

// EndSequence is one past the last sequence number stored in the chunk.
func (c ChunkRef) EndSequence() uint64 {
	return c.StartSequence + c.NumRecords
}

// Contains reports whether the sequence range of o lies within c's.
func (c ChunkRef) Contains(o ChunkRef) bool {
	return o.StartSequence >= c.StartSequence && o.EndSequence() <= c.EndSequence()
}

func (c ChunkRef) String() string {
	return fmt.Sprintf("%s[%d..%d)", c.Key(), c.StartSequence, c.EndSequence())
}
