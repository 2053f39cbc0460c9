// Package memory provides an in-memory implementation of the record store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"seedqc/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Record aliases domain.Record for in-memory persistence operations.
	Record = domain.Record
	// Replicate aliases domain.Replicate.
	Replicate = domain.Replicate
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	records    map[string]Record
	replicates map[string]Replicate
	// byRecord indexes replicate ids per record in insertion order.
	byRecord map[string][]string
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Records    map[string]Record    `json:"records"`
	Replicates map[string]Replicate `json:"replicates"`
}

func newMemoryState() memoryState {
	return memoryState{
		records:    make(map[string]Record),
		replicates: make(map[string]Replicate),
		byRecord:   make(map[string][]string),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		records:    make(map[string]Record, len(s.records)),
		replicates: make(map[string]Replicate, len(s.replicates)),
		byRecord:   make(map[string][]string, len(s.byRecord)),
	}
	for k, v := range s.records {
		out.records[k] = domain.CloneRecord(v)
	}
	for k, v := range s.replicates {
		out.replicates[k] = domain.CloneReplicate(v)
	}
	for k, v := range s.byRecord {
		out.byRecord[k] = append([]string(nil), v...)
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Records:    make(map[string]Record, len(state.records)),
		Replicates: make(map[string]Replicate, len(state.replicates)),
	}
	for k, v := range state.records {
		s.Records[k] = domain.CloneRecord(v)
	}
	for k, v := range state.replicates {
		s.Replicates[k] = domain.CloneReplicate(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Records {
		state.records[k] = domain.CloneRecord(v)
	}
	reps := make([]Replicate, 0, len(s.Replicates))
	for k, v := range s.Replicates {
		state.replicates[k] = domain.CloneReplicate(v)
		reps = append(reps, v)
	}
	sortReplicates(reps)
	for _, r := range reps {
		state.byRecord[r.RecordID] = append(state.byRecord[r.RecordID], r.ID)
	}
	return state
}

func sortReplicates(reps []Replicate) {
	sort.Slice(reps, func(i, j int) bool {
		if reps[i].RecordID != reps[j].RecordID {
			return reps[i].RecordID < reps[j].RecordID
		}
		if reps[i].Batch != reps[j].Batch {
			return reps[i].Batch < reps[j].Batch
		}
		if reps[i].Index != reps[j].Index {
			return reps[i].Index < reps[j].Index
		}
		return reps[i].ID < reps[j].ID
	})
}

// Store provides an in-memory transactional store for measurement records.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider, mainly for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListRecords returns all records ordered by creation time then id.
func (v transactionView) ListRecords() []Record {
	return listRecords(v.state)
}

// FindRecord returns a record by id.
func (v transactionView) FindRecord(id string) (Record, bool) {
	r, ok := v.state.records[id]
	if !ok {
		return Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListReplicates returns the replicates of a record ordered by batch and index.
func (v transactionView) ListReplicates(recordID string) []Replicate {
	return listReplicates(v.state, recordID)
}

func listRecords(state *memoryState) []Record {
	out := make([]Record, 0, len(state.records))
	for _, r := range state.records {
		out = append(out, domain.CloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func listReplicates(state *memoryState, recordID string) []Replicate {
	ids := state.byRecord[recordID]
	out := make([]Replicate, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.CloneReplicate(state.replicates[id]))
	}
	sortReplicates(out)
	return out
}

// RunInTransaction applies fn to a cloned state, evaluates rules over the
// recorded changes and commits only when no blocking violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetRecord returns a committed record by id.
func (s *Store) GetRecord(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.records[id]
	if !ok {
		return Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListRecords returns every committed record.
func (s *Store) ListRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRecords(&s.state)
}

// ListReplicates returns the committed replicates of a record.
func (s *Store) ListReplicates(recordID string) []Replicate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listReplicates(&s.state, recordID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateRecord stores a new record with version 1.
func (tx *transaction) CreateRecord(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.records[r.ID]; exists {
		return Record{}, fmt.Errorf("record %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	r.Version = 1
	tx.state.records[r.ID] = domain.CloneRecord(r)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionCreate, After: domain.CloneRecord(r)})
	return domain.CloneRecord(r), nil
}

// FindRecord exposes record lookup within the transaction scope.
func (tx *transaction) FindRecord(id string) (Record, bool) {
	r, ok := tx.state.records[id]
	if !ok {
		return Record{}, false
	}
	return domain.CloneRecord(r), true
}

// SaveRecord replaces a record when the caller holds the current version.
func (tx *transaction) SaveRecord(r Record) (Record, error) {
	current, ok := tx.state.records[r.ID]
	if !ok {
		return Record{}, domain.ErrNotFound{Entity: domain.EntityRecord, ID: r.ID}
	}
	if current.Version != r.Version {
		return Record{}, domain.ConflictError{RecordID: r.ID, Expected: r.Version, Actual: current.Version}
	}
	before := domain.CloneRecord(current)
	r.CreatedAt = current.CreatedAt
	r.UpdatedAt = tx.now
	r.Version = current.Version + 1
	tx.state.records[r.ID] = domain.CloneRecord(r)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionUpdate, Before: before, After: domain.CloneRecord(r)})
	return domain.CloneRecord(r), nil
}

// AddReplicate appends a replicate to an existing record.
func (tx *transaction) AddReplicate(rep Replicate) (Replicate, error) {
	if _, ok := tx.state.records[rep.RecordID]; !ok {
		return Replicate{}, domain.ErrNotFound{Entity: domain.EntityRecord, ID: rep.RecordID}
	}
	if rep.ID == "" {
		rep.ID = tx.store.newID()
	}
	if _, exists := tx.state.replicates[rep.ID]; exists {
		return Replicate{}, fmt.Errorf("replicate %q already exists", rep.ID)
	}
	rep.CreatedAt = tx.now
	rep.UpdatedAt = tx.now
	tx.state.replicates[rep.ID] = domain.CloneReplicate(rep)
	tx.state.byRecord[rep.RecordID] = append(tx.state.byRecord[rep.RecordID], rep.ID)
	tx.recordChange(Change{Entity: domain.EntityReplicate, Action: domain.ActionCreate, After: domain.CloneReplicate(rep)})
	return domain.CloneReplicate(rep), nil
}

// SaveReplicate updates the mutable parts of an existing replicate.
func (tx *transaction) SaveReplicate(rep Replicate) (Replicate, error) {
	current, ok := tx.state.replicates[rep.ID]
	if !ok {
		return Replicate{}, domain.ErrNotFound{Entity: domain.EntityReplicate, ID: rep.ID}
	}
	if current.RecordID != rep.RecordID {
		return Replicate{}, fmt.Errorf("replicate %q cannot move between records", rep.ID)
	}
	before := domain.CloneReplicate(current)
	rep.CreatedAt = current.CreatedAt
	rep.UpdatedAt = tx.now
	tx.state.replicates[rep.ID] = domain.CloneReplicate(rep)
	tx.recordChange(Change{Entity: domain.EntityReplicate, Action: domain.ActionUpdate, Before: before, After: domain.CloneReplicate(rep)})
	return domain.CloneReplicate(rep), nil
}

// FindBatchReplicates returns the replicates tagged to one batch of a record.
func (tx *transaction) FindBatchReplicates(recordID string, batch int) []Replicate {
	var out []Replicate
	for _, rep := range listReplicates(&tx.state, recordID) {
		if rep.Batch == batch {
			out = append(out, rep)
		}
	}
	return out
}

// CountReplicates returns how many replicates a record holds across all batches.
func (tx *transaction) CountReplicates(recordID string) int {
	return len(tx.state.byRecord[recordID])
}

// Bucket names used by snapshotting backends.
const (
	BucketRecords    = "records"
	BucketReplicates = "replicates"
)

// Buckets lists the snapshot buckets in persistence order.
func Buckets() []string { return []string{BucketRecords, BucketReplicates} }

// EncodeBuckets serializes the snapshot as one JSON document per bucket.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, 2)
	records, err := json.Marshal(s.Records)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketRecords, err)
	}
	out[BucketRecords] = records
	replicates, err := json.Marshal(s.Replicates)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketReplicates, err)
	}
	out[BucketReplicates] = replicates
	return out, nil
}

// DecodeBucket merges one persisted bucket into the snapshot. Unknown buckets
// and empty payloads are ignored.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketRecords:
		target = &s.Records
	case BucketReplicates:
		target = &s.Replicates
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
