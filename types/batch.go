package types

// Batch is an ordered, fixed-size slice of a candidate population submitted
// as one unit of work. Every candidate appears in exactly one batch, and
// re-slicing the same population with the same batch size is deterministic.
//
// A retry of a failed batch is a new Batch carrying the same candidates but
// a fresh TaskID.
type Batch struct {
	// Index is the monotonically increasing position of the batch within
	// its population. Results are keyed by Index; a retry result supersedes
	// the original at the same Index.
	Index int `msgpack:"index" json:"index"`
	// TaskID is the queue-level task identity for this submission attempt.
	TaskID string `msgpack:"task_id" json:"task_id"`
	// Candidates are processed strictly in list order within the batch.
	Candidates []Candidate `msgpack:"candidates" json:"candidates"`
}

// Size returns the number of candidates in the batch.
func (b *Batch) Size() int {
	return len(b.Candidates)
}
