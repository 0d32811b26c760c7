package metabolate

import "fmt"

// InvalidFeatureError reports a malformed input feature rejected at
// ingestion: a non-finite or negative m/z, retention time, or intensity,
// or an empty sample id. The whole input batch is rejected; no partial
// FeatureSet is produced.
type InvalidFeatureError struct {
	Index int     // position of the offending feature in the input slice
	Field string  // "mz", "rt", "intensity", or "sample"
	Value float64 // offending value (0 for the "sample" field)
}

func (e *InvalidFeatureError) Error() string {
	if e.Field == "sample" {
		return fmt.Sprintf("metabolate: feature %d has an empty sample id", e.Index)
	}
	return fmt.Sprintf("metabolate: feature %d has invalid %s %g", e.Index, e.Field, e.Value)
}

// InternalConsistencyError reports a violated pipeline invariant, such as
// a feature assigned to two baskets or a spatial-index removal of a point
// that was already consumed. It indicates a logic defect, not a data
// problem; the run aborts and the error is never recovered automatically.
type InternalConsistencyError struct {
	Op     string // operation that detected the violation
	Detail string
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("metabolate: internal consistency violation in %s: %s", e.Op, e.Detail)
}

// InsufficientDataError records a basket that gathered fewer distinct
// samples than Config.MinReplicates. It is informational: the run
// continues and the basket is dropped or flagged low-confidence per
// Config.KeepLowReplicate. Recorded values refer to the completed
// basketing pass, before retained baskets are renumbered.
type InsufficientDataError struct {
	BasketID   int
	Replicates int
	Required   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("metabolate: basket %d has %d replicates, %d required",
		e.BasketID, e.Replicates, e.Required)
}
