package table

// Snapshot is a consistent read view: a published Generation plus the
// records of arenas whose chunks are not part of it yet. Arenas are ordered
// newest first.
type Snapshot struct {
	Head   *Generation
	Arenas []ArenaView
}

// NumRecords counts the records visible through the snapshot for one replica.
func (s *Snapshot) NumRecords(replicaID string, ownReplica bool) uint64 {
	var n uint64
	for _, c := range s.Head.Chunks {
		if c.ReplicaID == replicaID {
			n += c.NumRecords
		}
	}
	if ownReplica {
		for _, a := range s.Arenas {
			n += uint64(a.Size())
		}
	}
	return n
}
