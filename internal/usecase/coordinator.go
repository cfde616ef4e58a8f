package usecase

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"serialtrust/internal/domain"
)

// UploadCoordinator assembles verified uploads into batches and drives the
// idempotent persistence write. A single-file upload is a one-chunk batch;
// chunk arrival order never matters, only the set of indices received.
// Batch state is kept in memory with one lock per batch; the optional
// recorder mirrors unit transitions to durable storage.
type UploadCoordinator struct {
	Serials SerialStore
	Units   UploadUnitRecorder

	mu      sync.Mutex
	batches map[string]*batchState
	now     func() time.Time
}

type batchState struct {
	mu           sync.Mutex
	factory      string
	batchID      string
	totalChunks  int
	testRunCount int
	chunks       map[int]*chunkEntry
	complete     bool
}

type chunkEntry struct {
	digest     string
	payload    []byte
	status     domain.UploadStatus
	receivedAt time.Time
	inserted   int
	conflicts  int
}

type RetryReport struct {
	RetriedChunks   int
	Inserted        int
	Conflicts       int
	StillFailed     int
	AwaitingBatches int
}

func NewUploadCoordinator(serials SerialStore, units UploadUnitRecorder) *UploadCoordinator {
	return &UploadCoordinator{
		Serials: serials,
		Units:   units,
		batches: make(map[string]*batchState),
		now:     time.Now,
	}
}

func batchKey(factory, batchID string) string {
	return factory + "/" + batchID
}

// Admit records one verified unit and, when its batch is fully received,
// merges chunks in index order and performs the persistence writes.
func (c *UploadCoordinator) Admit(ctx context.Context, unit domain.UploadUnit, payload []byte, factoryName string) (*domain.Admission, error) {
	if unit.TotalChunks <= 1 {
		unit.TotalChunks = 1
		unit.ChunkIndex = 0
		if unit.BatchID == "" {
			unit.BatchID = unit.ContentDigest
		}
	}
	if unit.BatchID == "" || unit.ChunkIndex < 0 || unit.ChunkIndex >= unit.TotalChunks {
		return nil, fmt.Errorf("%w: batch %q chunk %d of %d", domain.ErrInvalidUpload, unit.BatchID, unit.ChunkIndex, unit.TotalChunks)
	}

	bs := c.batch(factoryName, unit)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.totalChunks != unit.TotalChunks {
		return nil, fmt.Errorf("%w: declared %d chunks, batch has %d", domain.ErrInvalidUpload, unit.TotalChunks, bs.totalChunks)
	}
	if unit.TestRunCount > 0 {
		bs.testRunCount = unit.TestRunCount
	}

	if existing, ok := bs.chunks[unit.ChunkIndex]; ok {
		if existing.digest != unit.ContentDigest {
			return nil, fmt.Errorf("%w: batch %q index %d", domain.ErrDigestMismatch, unit.BatchID, unit.ChunkIndex)
		}
		if bs.complete {
			return &domain.Admission{Outcome: domain.AdmissionDuplicate, BatchID: unit.BatchID}, nil
		}
		return &domain.Admission{
			Outcome:       domain.AdmissionQueued,
			BatchID:       unit.BatchID,
			ChunksPending: bs.totalChunks - len(bs.chunks),
		}, nil
	}
	// A digest already held at another index is a resubmission of known
	// data, not a new chunk.
	for idx, existing := range bs.chunks {
		if existing.digest == unit.ContentDigest && idx != unit.ChunkIndex {
			return &domain.Admission{Outcome: domain.AdmissionDuplicate, BatchID: unit.BatchID}, nil
		}
	}

	entry := &chunkEntry{
		digest:     unit.ContentDigest,
		payload:    payload,
		status:     domain.UploadStatusReceived,
		receivedAt: c.now().UTC(),
	}
	bs.chunks[unit.ChunkIndex] = entry

	if len(bs.chunks) < bs.totalChunks {
		entry.status = domain.UploadStatusAwaitingSiblings
		c.record(ctx, bs, unit.ChunkIndex)
		return &domain.Admission{
			Outcome:       domain.AdmissionQueued,
			BatchID:       unit.BatchID,
			ChunksPending: bs.totalChunks - len(bs.chunks),
		}, nil
	}

	return c.processLocked(ctx, bs, unit.BatchID)
}

func (c *UploadCoordinator) batch(factoryName string, unit domain.UploadUnit) *batchState {
	key := batchKey(factoryName, unit.BatchID)
	c.mu.Lock()
	defer c.mu.Unlock()
	bs, ok := c.batches[key]
	if !ok {
		bs = &batchState{
			factory:     factoryName,
			batchID:     unit.BatchID,
			totalChunks: unit.TotalChunks,
			chunks:      make(map[int]*chunkEntry),
		}
		c.batches[key] = bs
	}
	return bs
}

// processLocked walks chunks in index order and writes each chunk's rows.
// A chunk whose write fails is marked failed and left for an explicit
// retry; sibling chunks are unaffected.
func (c *UploadCoordinator) processLocked(ctx context.Context, bs *batchState, batchID string) (*domain.Admission, error) {
	admission := &domain.Admission{Outcome: domain.AdmissionAccepted, BatchID: batchID}
	failed := 0
	for idx := 0; idx < bs.totalChunks; idx++ {
		entry := bs.chunks[idx]
		if entry.status == domain.UploadStatusComplete {
			admission.Inserted += entry.inserted
			admission.Conflicts += entry.conflicts
			continue
		}
		inserted, conflicts, err := c.writeChunk(ctx, bs.factory, entry.payload)
		if err != nil {
			log.Printf("persistence write failed for factory %s batch %s chunk %d: %v", bs.factory, batchID, idx, err)
			entry.status = domain.UploadStatusFailed
			failed++
			c.record(ctx, bs, idx)
			continue
		}
		entry.status = domain.UploadStatusComplete
		entry.inserted = inserted
		entry.conflicts = conflicts
		entry.payload = nil
		admission.Inserted += inserted
		admission.Conflicts += conflicts
		c.record(ctx, bs, idx)
	}
	if failed > 0 {
		return nil, fmt.Errorf("%w: %d of %d chunks failed", domain.ErrPersistence, failed, bs.totalChunks)
	}
	bs.complete = true
	return admission, nil
}

// writeChunk parses CSV rows of the form device_id,wwyy and performs the
// insert-if-absent write per serial. Header and malformed rows are skipped
// the way the factories' existing tooling expects.
func (c *UploadCoordinator) writeChunk(ctx context.Context, factoryName string, payload []byte) (inserted, conflicts int, err error) {
	reader := csv.NewReader(strings.NewReader(string(payload)))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return 0, 0, fmt.Errorf("parse csv: %w", err)
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		deviceID := strings.TrimSpace(row[0])
		wwyyRaw := strings.TrimSpace(row[1])
		wwyy, convErr := strconv.Atoi(wwyyRaw)
		if convErr != nil {
			continue
		}
		productionDate, convErr := domain.WWYYToDate(wwyy)
		if convErr != nil {
			log.Printf("skipping serial %s: %v", deviceID, convErr)
			continue
		}
		ok, insErr := c.Serials.InsertIfAbsent(ctx, domain.SerialRecord{
			SerialNumber:   domain.BuildSerial(deviceID, wwyy),
			ProductionDate: productionDate,
			Provenance:     factoryName,
		})
		if insErr != nil {
			return inserted, conflicts, insErr
		}
		if ok {
			inserted++
		} else {
			conflicts++
		}
	}
	return inserted, conflicts, nil
}

func (c *UploadCoordinator) record(ctx context.Context, bs *batchState, idx int) {
	if c.Units == nil {
		return
	}
	entry := bs.chunks[idx]
	err := c.Units.RecordUnit(ctx, bs.factory, domain.UploadUnit{
		BatchID:       bs.batchID,
		ChunkIndex:    idx,
		TotalChunks:   bs.totalChunks,
		TestRunCount:  bs.testRunCount,
		ContentDigest: entry.digest,
		Status:        entry.status,
		ReceivedAt:    entry.receivedAt,
	})
	if err != nil {
		log.Printf("recording upload unit %s/%d: %v", bs.batchID, idx, err)
	}
}

// RetryFailed re-attempts the failed chunks of every fully received batch
// for a factory. Retries are explicit, never automatic; batches still
// missing chunks are reported, not retried.
func (c *UploadCoordinator) RetryFailed(ctx context.Context, factoryName string) (*RetryReport, error) {
	report := &RetryReport{}
	for _, bs := range c.factoryBatches(factoryName) {
		bs.mu.Lock()
		if len(bs.chunks) < bs.totalChunks {
			report.AwaitingBatches++
			bs.mu.Unlock()
			continue
		}
		if bs.complete {
			bs.mu.Unlock()
			continue
		}
		retried := 0
		for idx := 0; idx < bs.totalChunks; idx++ {
			if bs.chunks[idx].status == domain.UploadStatusFailed {
				bs.chunks[idx].status = domain.UploadStatusReceived
				retried++
			}
		}
		if retried == 0 {
			bs.mu.Unlock()
			continue
		}
		report.RetriedChunks += retried
		admission, err := c.processLocked(ctx, bs, bs.batchID)
		if err != nil {
			report.StillFailed += c.countLocked(bs, domain.UploadStatusFailed)
			bs.mu.Unlock()
			continue
		}
		report.Inserted += admission.Inserted
		report.Conflicts += admission.Conflicts
		bs.mu.Unlock()
	}
	return report, nil
}

// RetryBatch retries one batch by id. A batch that is still missing
// chunks cannot be retried.
func (c *UploadCoordinator) RetryBatch(ctx context.Context, factoryName, batchID string) (*RetryReport, error) {
	c.mu.Lock()
	bs, ok := c.batches[batchKey(factoryName, batchID)]
	c.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if len(bs.chunks) < bs.totalChunks {
		return nil, fmt.Errorf("%w: %d of %d chunks received", domain.ErrBatchIncomplete, len(bs.chunks), bs.totalChunks)
	}
	report := &RetryReport{}
	if bs.complete {
		return report, nil
	}
	for idx := 0; idx < bs.totalChunks; idx++ {
		if bs.chunks[idx].status == domain.UploadStatusFailed {
			bs.chunks[idx].status = domain.UploadStatusReceived
			report.RetriedChunks++
		}
	}
	if report.RetriedChunks == 0 {
		return report, nil
	}
	admission, err := c.processLocked(ctx, bs, batchID)
	if err != nil {
		report.StillFailed = c.countLocked(bs, domain.UploadStatusFailed)
		return report, err
	}
	report.Inserted = admission.Inserted
	report.Conflicts = admission.Conflicts
	return report, nil
}

// QueueStatus reports outstanding work for a factory: chunks waiting on
// siblings or unprocessed, and chunks whose write failed.
func (c *UploadCoordinator) QueueStatus(_ context.Context, factoryName string) domain.QueueStatus {
	status := domain.QueueStatus{FactoryName: factoryName}
	for _, bs := range c.factoryBatches(factoryName) {
		bs.mu.Lock()
		status.Pending += c.countLocked(bs, domain.UploadStatusAwaitingSiblings)
		status.Pending += c.countLocked(bs, domain.UploadStatusReceived)
		status.Failed += c.countLocked(bs, domain.UploadStatusFailed)
		bs.mu.Unlock()
	}
	return status
}

func (c *UploadCoordinator) factoryBatches(factoryName string) []*batchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*batchState
	for _, bs := range c.batches {
		if bs.factory == factoryName {
			out = append(out, bs)
		}
	}
	return out
}

func (c *UploadCoordinator) countLocked(bs *batchState, status domain.UploadStatus) int {
	n := 0
	for _, entry := range bs.chunks {
		if entry.status == status {
			n++
		}
	}
	return n
}
