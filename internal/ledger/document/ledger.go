// Package document implements the submission ledger on top of a single
// JSON document on disk.
//
// Every upsert is a full read-merge-write cycle over that document, so
// all writes are serialized through one worker goroutine and applied in
// arrival order. Reads load the whole document directly; the writer
// replaces it atomically (temp file + rename), so readers always see a
// consistent snapshot.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/expoarte/registrar/internal/domain"
)

// MetricsSink defines the interface for recording ledger metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LedgerWriteCompleted(duration time.Duration, err error)
	LedgerRecordsUpdate(count int)
}

const defaultQueueSize = 64

// DrainTimeout is the maximum time to finish queued upserts during shutdown.
const DrainTimeout = 10 * time.Second

type upsertRequest struct {
	identity uuid.UUID
	stage    domain.Stage
	payload  json.RawMessage
	reply    chan upsertResult
}

type upsertResult struct {
	record domain.Record
	err    error
}

// Ledger is the file-backed submission store. Run must be started
// before Upsert is called; reads work without the worker.
type Ledger struct {
	path     string
	requests chan upsertRequest
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

func New(path string, queueSize int) *Ledger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Ledger{
		path:     path,
		requests: make(chan upsertRequest, queueSize),
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the ledger.
func (l *Ledger) WithMetrics(sink MetricsSink) *Ledger {
	l.metrics = sink
	return l
}

// Run processes upsert requests until ctx is cancelled, then drains
// whatever is still queued so accepted submissions are not lost.
func (l *Ledger) Run(ctx context.Context) {
	log.Printf("ledger: writer started (path=%s)", l.path)
	for {
		select {
		case <-ctx.Done():
			l.drain()
			log.Println("ledger: writer stopped")
			return
		case req := <-l.requests:
			req.reply <- l.apply(req)
		}
	}
}

func (l *Ledger) drain() {
	deadline := time.NewTimer(DrainTimeout)
	defer deadline.Stop()

	count := 0
	for {
		select {
		case <-deadline.C:
			log.Printf("ledger: drain timeout, applied %d queued upserts", count)
			return
		case req := <-l.requests:
			req.reply <- l.apply(req)
			count++
		default:
			if count > 0 {
				log.Printf("ledger: drain complete, applied %d queued upserts", count)
			}
			return
		}
	}
}

// Upsert creates the record for identity if it does not exist, or merges
// the stage payload into the existing record. The returned record is the
// full post-merge state.
func (l *Ledger) Upsert(ctx context.Context, identity uuid.UUID, stage domain.Stage, payload json.RawMessage) (domain.Record, error) {
	req := upsertRequest{
		identity: identity,
		stage:    stage,
		payload:  payload,
		reply:    make(chan upsertResult, 1),
	}

	select {
	case l.requests <- req:
	case <-ctx.Done():
		return domain.Record{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.record, res.err
	case <-ctx.Done():
		return domain.Record{}, ctx.Err()
	}
}

// apply runs one read-merge-write cycle. Only the writer goroutine
// calls this.
func (l *Ledger) apply(req upsertRequest) upsertResult {
	start := l.clock()
	record, err := l.applyLocked(req)
	if l.metrics != nil {
		l.metrics.LedgerWriteCompleted(l.clock().Sub(start), err)
	}
	return upsertResult{record: record, err: err}
}

func (l *Ledger) applyLocked(req upsertRequest) (domain.Record, error) {
	records, err := l.readAll()
	if err != nil {
		// Unreadable or corrupt document: start over from empty rather
		// than losing the submission. The write below replaces the file.
		log.Printf("ledger: unreadable document, reinitialising: %v", err)
		records = nil
	}

	now := l.clock().UTC()
	idx := -1
	for i := range records {
		if records[i].Identity == req.identity {
			idx = i
			break
		}
	}

	payload := make(json.RawMessage, len(req.payload))
	copy(payload, req.payload)

	if idx == -1 {
		records = append(records, domain.Record{
			Identity:  req.identity,
			CreatedAt: now,
			Stages:    map[domain.Stage]json.RawMessage{req.stage: payload},
		})
		idx = len(records) - 1
	} else {
		if records[idx].Stages == nil {
			records[idx].Stages = make(map[domain.Stage]json.RawMessage)
		}
		records[idx].Stages[req.stage] = payload
		records[idx].LastUpdatedAt = &now
	}

	if err := l.writeAll(records); err != nil {
		return domain.Record{}, fmt.Errorf("persist ledger: %w", err)
	}

	if l.metrics != nil {
		l.metrics.LedgerRecordsUpdate(len(records))
	}
	return records[idx].Clone(), nil
}

// LoadAll returns every record in creation order. A missing, empty or
// corrupt document degrades to an empty sequence.
func (l *Ledger) LoadAll(ctx context.Context) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := l.readAll()
	if err != nil {
		log.Printf("ledger: read degraded to empty: %v", err)
		return nil, nil
	}
	return records, nil
}

// FindByIdentity returns the record for identity or domain.ErrNotFound.
func (l *Ledger) FindByIdentity(ctx context.Context, identity uuid.UUID) (domain.Record, error) {
	records, err := l.LoadAll(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	for i := range records {
		if records[i].Identity == identity {
			return records[i], nil
		}
	}
	return domain.Record{}, domain.ErrNotFound
}

// PingContext reports whether the backing document is usable: the file
// (or its directory, before first write) must be accessible.
func (l *Ledger) PingContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(l.path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		// Self-initialising store: a missing file is healthy. The write
		// path creates the directory, so only a broken parent fails here.
		if _, derr := os.Stat(filepath.Dir(l.path)); derr != nil && !errors.Is(derr, os.ErrNotExist) {
			return derr
		}
	}
	return nil
}

func (l *Ledger) readAll() ([]domain.Record, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return records, nil
}

func (l *Ledger) writeAll(records []domain.Record) error {
	// Compact encoding keeps the stage payload bytes exactly as they
	// were submitted; indenting would rewrite them on every cycle.
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".submissions-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
