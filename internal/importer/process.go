package importer

import (
	"context"
	"fmt"
	"log/slog"
)

// CircuitBreakerThreshold is the number of failed per-item commits after
// which an ImportProcess stops calling its commit function.
const CircuitBreakerThreshold = 3

// CommitFunc persists a batch of records and returns one result per record,
// in input order. A nil result slice with a nil error means the function
// reports no ids; each record then keeps the id it already carries.
type CommitFunc[C any] func(ctx context.Context, records []C) ([]Identifiable, error)

// ChunkReport is delivered to observers after every committed chunk.
type ChunkReport[C any] struct {
	Index   int
	Records []C
	Results []Identifiable
	// Fallback is set when the batch commit failed and records were
	// committed one at a time.
	Fallback bool
}

// Failed returns the number of records in the chunk whose commit failed.
func (r ChunkReport[C]) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// ImportProcess commits records in chunks. A failed chunk is retried one
// record at a time; after CircuitBreakerThreshold failed records every
// further record resolves to a null id without a commit call.
//
// The failure counter lives as long as the process. CleanUp does not reset it.
type ImportProcess[C Entity] struct {
	commit    CommitFunc[C]
	chunkSize int
	logger    *slog.Logger

	failures  int
	imported  []C
	observers []func(ChunkReport[C])
}

// NewImportProcess creates a process. A chunkSize of 0 or less commits
// everything as a single chunk.
func NewImportProcess[C Entity](commit CommitFunc[C], chunkSize int, logger *slog.Logger) (*ImportProcess[C], error) {
	if commit == nil {
		return nil, ErrMissingCreate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportProcess[C]{
		commit:    commit,
		chunkSize: chunkSize,
		logger:    logger,
	}, nil
}

// OnChunk registers an observer called after each chunk.
func (p *ImportProcess[C]) OnChunk(fn func(ChunkReport[C])) {
	if fn != nil {
		p.observers = append(p.observers, fn)
	}
}

// Failures returns the number of failed per-item commits so far.
func (p *ImportProcess[C]) Failures() int { return p.failures }

// CircuitOpen reports whether the circuit breaker has tripped.
func (p *ImportProcess[C]) CircuitOpen() bool { return p.failures >= CircuitBreakerThreshold }

// Imported returns the records that committed without error since the last CleanUp.
func (p *ImportProcess[C]) Imported() []C { return p.imported }

// CleanUp resets the imported list.
func (p *ImportProcess[C]) CleanUp() { p.imported = nil }

// Run commits records and returns one result per record, aligned with the input.
func (p *ImportProcess[C]) Run(ctx context.Context, records []C) []Identifiable {
	results := make([]Identifiable, 0, len(records))
	for i, chunk := range chunks(records, p.chunkSize) {
		res, fallback := p.runChunk(ctx, chunk)
		for j, r := range res {
			if r.Err == nil {
				p.imported = append(p.imported, chunk[j])
			}
		}
		results = append(results, res...)

		report := ChunkReport[C]{Index: i, Records: chunk, Results: res, Fallback: fallback}
		for _, fn := range p.observers {
			fn(report)
		}
	}
	return results
}

func (p *ImportProcess[C]) runChunk(ctx context.Context, chunk []C) ([]Identifiable, bool) {
	if p.CircuitOpen() {
		p.logger.Debug("chunk skipped", "size", len(chunk), "reason", ErrCircuitOpen)
		return skipped(len(chunk)), false
	}

	res, err := callCommit(ctx, p.commit, chunk)
	if err == nil {
		return res, false
	}
	p.logger.Warn("batch commit failed, retrying per item",
		"size", len(chunk),
		"error", err,
	)

	out := make([]Identifiable, len(chunk))
	for i, rec := range chunk {
		if p.CircuitOpen() {
			out[i] = Identifiable{}
			continue
		}
		one, err := callCommit(ctx, p.commit, []C{rec})
		if err != nil {
			p.failures++
			p.logger.Debug("item commit failed", "item", i, "error", err)
			out[i] = Identifiable{Err: err}
			if p.CircuitOpen() {
				p.logger.Warn("circuit breaker open, skipping remaining commits",
					"failures", p.failures,
				)
			}
			continue
		}
		out[i] = one[0]
	}
	return out, true
}

// callCommit invokes commit and normalizes its outcome: panics become errors,
// a nil result is synthesized from the records' existing ids and a result
// count that differs from the input is a failure.
func callCommit[C Entity](ctx context.Context, commit CommitFunc[C], records []C) (res []Identifiable, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("import: commit panicked: %v", r)
		}
	}()

	res, err = commit(ctx, records)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return existingIDs(records), nil
	}
	if len(res) != len(records) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrResultMismatch, len(res), len(records))
	}
	return res, nil
}

func existingIDs[C Entity](records []C) []Identifiable {
	out := make([]Identifiable, len(records))
	for i, rec := range records {
		out[i] = Identifiable{ID: rec.EntityID()}
	}
	return out
}

func skipped(n int) []Identifiable {
	return make([]Identifiable, n)
}

// chunks splits items into consecutive slices of at most size elements.
// A size of 0 or less yields one chunk.
func chunks[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
