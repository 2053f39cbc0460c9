package domain

import "context"

// Transaction exposes the record operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateRecord(Record) (Record, error)
	FindRecord(id string) (Record, bool)
	// SaveRecord persists r when r.Version matches the stored version and
	// returns the record with its version advanced. A mismatch yields ConflictError.
	SaveRecord(r Record) (Record, error)
	AddReplicate(Replicate) (Replicate, error)
	SaveReplicate(Replicate) (Replicate, error)
	FindBatchReplicates(recordID string, batch int) []Replicate
	CountReplicates(recordID string) int
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRecord(id string) (Record, bool)
	ListRecords() []Record
	ListReplicates(recordID string) []Replicate
}
