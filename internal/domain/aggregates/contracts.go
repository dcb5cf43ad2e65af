package aggregates

// WriteTxOwnership defines who owns write transaction boundaries.
type WriteTxOwnership string

const (
	// WriteTxOwnedByRunner means the command runner starts and manages the
	// atomic append+projection transaction.
	WriteTxOwnedByRunner WriteTxOwnership = "runner_owned"
)

// ReadPolicy defines how aggregate contracts expose reads.
type ReadPolicy string

const (
	// ReadPolicyEventReplay allows only replayed stream state inside write
	// flows; decisions never read projection rows.
	ReadPolicyEventReplay ReadPolicy = "event_replay"
	// ReadPolicyProjectionQueries keeps routine reads and analytics on the
	// denormalized projection tables.
	ReadPolicyProjectionQueries ReadPolicy = "projection_queries"
)

// Contract describes aggregate-level policy expectations.
type Contract struct {
	Name             string
	WriteTxOwnership WriteTxOwnership
	ReadPolicy       ReadPolicy
	Notes            string
}

// Aggregate is the common marker for all aggregate contracts.
type Aggregate interface {
	Contract() Contract
}
