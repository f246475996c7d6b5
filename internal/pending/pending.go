// Package pending implements the gateway's pending-request table: the
// one-shot rendezvous between an HTTP front goroutine awaiting a response
// and the connection read-loop that eventually decodes it.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyOpen is returned by Open when the request id is already tracked.
var ErrAlreadyOpen = errors.New("pending: request id already open")

// ErrConnectionLost is delivered to an awaiter when its owning connection is
// removed from the registry before a response arrives.
var ErrConnectionLost = errors.New("pending: connection lost")

// ErrTimeout is delivered to an awaiter whose deadline expires first.
var ErrTimeout = errors.New("pending: timeout")

// ErrUnknownRequest is returned by Await for a request id nobody Open'd.
var ErrUnknownRequest = errors.New("pending: unknown request id")

// Result is whatever the message decoder hands back to Resolve. The gateway
// passes an *anpx.Message; kept as interface{} here so this package stays
// independent of the wire protocol package.
type Result interface{}

type record struct {
	connID    string
	createdAt time.Time
	deadline  time.Time
	ch        chan outcome
	once      sync.Once
}

type outcome struct {
	result Result
	err    error
}

// Table tracks in-flight requests keyed by request id. A record is only
// ever removed from the map by the goroutine that calls Await for it (or by
// SweepStale as an age-based backstop) — Resolve/Fail/CancelByConnection
// only deliver the outcome. This matters because Open and Await are called
// sequentially by the same owner, but the deliverer runs on a different
// goroutine and may run anywhere between those two calls; deleting on
// deliver would make Await's lookup race against it.
type Table struct {
	mu      sync.Mutex
	records map[string]*record
}

// New creates an empty pending-request table.
func New() *Table {
	return &Table{records: make(map[string]*record)}
}

// Open creates a record for requestID owned by connID with the given
// per-request timeout. Fails if the id is already open.
func (t *Table) Open(requestID, connID string, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[requestID]; exists {
		return ErrAlreadyOpen
	}

	now := time.Now()
	t.records[requestID] = &record{
		connID:    connID,
		createdAt: now,
		deadline:  now.Add(timeout),
		ch:        make(chan outcome, 1),
	}
	return nil
}

// Resolve delivers result to the awaiter of requestID. Resolving an unknown
// id is not an error; callers should log it.
func (t *Table) Resolve(requestID string, result Result) bool {
	return t.deliver(requestID, outcome{result: result})
}

// Fail delivers err to the awaiter of requestID.
func (t *Table) Fail(requestID string, err error) bool {
	return t.deliver(requestID, outcome{err: err})
}

func (t *Table) deliver(requestID string, o outcome) bool {
	t.mu.Lock()
	rec, ok := t.records[requestID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	rec.once.Do(func() { rec.ch <- o })
	return true
}

// Await blocks until requestID resolves, fails, times out, or ctx is
// cancelled, whichever comes first, then removes the record.
func (t *Table) Await(ctx context.Context, requestID string) (Result, error) {
	t.mu.Lock()
	rec, ok := t.records[requestID]
	t.mu.Unlock()
	if !ok {
		return nil, ErrUnknownRequest
	}
	defer t.drop(requestID)

	timer := time.NewTimer(time.Until(rec.deadline))
	defer timer.Stop()

	select {
	case o := <-rec.ch:
		return o.result, o.err
	case <-timer.C:
		rec.once.Do(func() { rec.ch <- outcome{err: ErrTimeout} })
		return nil, ErrTimeout
	case <-ctx.Done():
		rec.once.Do(func() { rec.ch <- outcome{err: ctx.Err()} })
		return nil, ctx.Err()
	}
}

func (t *Table) drop(requestID string) {
	t.mu.Lock()
	delete(t.records, requestID)
	t.mu.Unlock()
}

// CancelByConnection fails every record owned by connID with
// ErrConnectionLost. Used by Registry.Remove. Records stay in the table
// until their own Await call drops them.
func (t *Table) CancelByConnection(connID string) int {
	t.mu.Lock()
	var ids []string
	for id, rec := range t.records {
		if rec.connID == connID {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Fail(id, ErrConnectionLost)
	}
	return len(ids)
}

// SweepStale drops every record older than maxAge (a backstop distinct from
// the per-request timeout, guarding against a lost timer or an owner that
// never calls Await). Returns the number swept.
func (t *Table) SweepStale(maxAge time.Duration) int {
	t.mu.Lock()
	now := time.Now()
	var ids []string
	for id, rec := range t.records {
		if now.Sub(rec.createdAt) > maxAge {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(t.records, id)
	}
	t.mu.Unlock()

	return len(ids)
}

// Len reports the number of currently open records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
