// Package sync is the sync orchestrator (C6): it pulls the delta from the
// Source using a stored cursor, batches item ids, fetches, filters,
// decodes and writes each item, and maintains the processing log. It is
// structured like spirit's Runner: one long-lived struct holding every
// collaborator it needs (database, Source client, schema registry,
// dedup ledger, writer), a small atomic state machine, and a periodic
// status-logging goroutine for long-running batches.
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/siddontang/go-log/loggers"
	"github.com/sirupsen/logrus"

	"github.com/loopworks/edgesync/pkg/dbconn"
	"github.com/loopworks/edgesync/pkg/dedup"
	"github.com/loopworks/edgesync/pkg/decode"
	"github.com/loopworks/edgesync/pkg/metrics"
	"github.com/loopworks/edgesync/pkg/normalize"
	"github.com/loopworks/edgesync/pkg/schema"
	"github.com/loopworks/edgesync/pkg/source"
	"github.com/loopworks/edgesync/pkg/syncerr"
	"github.com/loopworks/edgesync/pkg/write"
)

var supportedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".xlsm": true,
	".xlsb": true,
}

const statusInterval = 30 * time.Second

// Processor is the C6 orchestrator. One instance serves one (site, list)
// pair, per spec.md §1's "no cross-site multi-tenancy" non-goal.
type Processor struct {
	db         *sql.DB
	schemaName string
	registry   *schema.Registry
	source     source.Client
	ledger     *dedup.Ledger
	writer     *write.Writer

	watchedPathCanon string
	defaultBatchSize int
	resyncWindow     time.Duration

	currentState int32 // State, via sync/atomic

	logger      loggers.Advanced
	metricsSink metrics.Sink

	progress successCounters

	// lastItemError holds the message of the most recent CoerceError seen
	// by fetchAndStoreItem, read back by runBatch immediately afterward.
	// It is only ever touched from within a single run's goroutine.
	lastItemError string
}

// successCounters is the in-memory progress snapshot read by Progress()
// and refreshed at the end of every run. It is not the authoritative
// record. The ProcessingLog row committed (or not) to the database is;
// this snapshot exists purely for an out-of-process status reporter.
type successCounters struct {
	successfulItems int32
	failedItems     int32
	lastError       atomic.Value // string
}

// NewProcessor constructs a Processor. logger defaults to logrus.New(),
// matching spirit's NewRunner defaulting its loggers.Advanced field the
// same way; metricsSink defaults to the no-op sink.
func NewProcessor(db *sql.DB, schemaName string, registry *schema.Registry, src source.Client, watchedPath string, defaultBatchSize int, resyncWindow time.Duration) *Processor {
	p := &Processor{
		db:               db,
		schemaName:       schemaName,
		registry:         registry,
		source:           src,
		ledger:           dedup.NewLedger(schemaName),
		writer:           write.NewWriter(schemaName),
		watchedPathCanon: Canonicalize(watchedPath),
		defaultBatchSize: defaultBatchSize,
		resyncWindow:     resyncWindow,
		logger:           logrus.New(),
		metricsSink:      &metrics.NoopSink{},
	}
	p.progress.lastError.Store("")
	return p
}

// SetLogger overrides the default logger, for tests or a host process
// that wants structured logging routed elsewhere.
func (p *Processor) SetLogger(logger loggers.Advanced) {
	p.logger = logger
}

// SetMetricsSink overrides the default no-op metrics sink, propagating it
// to the writer so artifact-write counts surface on the same sink.
func (p *Processor) SetMetricsSink(sink metrics.Sink) {
	p.metricsSink = sink
	p.writer.SetMetricsSink(sink)
}

// Progress returns a snapshot of the processor's most recent run.
func (p *Processor) Progress() Progress {
	return Progress{
		State:           p.getCurrentState().String(),
		SuccessfulItems: int(atomic.LoadInt32(&p.progress.successfulItems)),
		FailedItems:     int(atomic.LoadInt32(&p.progress.failedItems)),
		LastError:       p.progress.lastError.Load().(string),
	}
}

// FetchAndStoreDelta pulls a fresh delta for (siteID, listID) using the
// last committed cursor, processes up to batchSize items, and commits a
// single ProcessingLog row recording the outcome. If the Source reports
// the cursor is expired it falls back to the windowed resync described in
// spec.md §4.6 before continuing. If the delta produced more ids than
// batchSize, the remainder is returned as a Continuation for the caller to
// re-enqueue.
func (p *Processor) FetchAndStoreDelta(ctx context.Context, siteID, listID string, batchSize int) (*Result, error) {
	if batchSize <= 0 {
		batchSize = p.defaultBatchSize
	}
	p.setCurrentState(StateStarting)
	defer p.setCurrentState(StateIdle)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindWriteFailure, "failed to open batch transaction", err)
	}
	defer tx.Rollback()

	last, err := p.lastProcessingLog(ctx, tx, siteID, listID)
	if err != nil {
		return nil, err
	}

	cursor := ""
	if last != nil {
		cursor = last.DeltaLink
	}

	newCursor, itemIDs, err := p.source.PullItemsDelta(ctx, siteID, listID, cursor)
	if err != nil {
		if err == source.ErrResyncRequired {
			newCursor, itemIDs, err = p.resync(ctx, siteID, listID, last)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, syncerr.Wrap(syncerr.KindSourceUnavailable, "delta pull failed", err)
		}
	}

	batch := itemIDs
	var remaining []string
	if len(batch) > batchSize {
		remaining = append([]string(nil), batch[batchSize:]...)
		batch = batch[:batchSize]
	}

	finalize := len(remaining) == 0
	logRow, err := p.runBatch(ctx, tx, siteID, listID, batch, newCursor, finalize)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindWriteFailure, "failed to commit batch", err)
	}

	result := &Result{Log: *logRow}
	if len(remaining) > 0 {
		result.Continuation = &Continuation{RemainingItemIDs: remaining, PendingDeltaLink: newCursor}
	}
	return result, nil
}

// FetchAndStoreItems consumes a previously-enqueued Continuation: it
// processes itemIDs directly instead of pulling a fresh delta, and only
// persists cursor as the new delta_link when finalize is true.
func (p *Processor) FetchAndStoreItems(ctx context.Context, siteID, listID string, itemIDs []string, cursor string, finalize bool) (*Result, error) {
	p.setCurrentState(StateStarting)
	defer p.setCurrentState(StateIdle)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindWriteFailure, "failed to open batch transaction", err)
	}
	defer tx.Rollback()

	logRow, err := p.runBatch(ctx, tx, siteID, listID, itemIDs, cursor, finalize)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindWriteFailure, "failed to commit batch", err)
	}

	return &Result{Log: *logRow}, nil
}

// resync implements the windowed-resync fallback: ask for items modified
// since last_processed_at minus the configured resync window, then
// request a fresh cursor for subsequent runs.
func (p *Processor) resync(ctx context.Context, siteID, listID string, last *ProcessingLog) (string, []string, error) {
	var since time.Time
	if last != nil {
		since = last.LastProcessedAt.Add(-p.resyncWindow)
	}
	itemIDs, err := p.source.PullItemsModifiedSince(ctx, siteID, listID, since)
	if err != nil {
		return "", nil, syncerr.Wrap(syncerr.KindSourceUnavailable, "windowed resync pull failed", err)
	}
	newCursor, _, err := p.source.PullItemsDelta(ctx, siteID, listID, "")
	if err != nil {
		return "", nil, syncerr.Wrap(syncerr.KindSourceUnavailable, "failed to mint fresh cursor after resync", err)
	}
	return newCursor, itemIDs, nil
}

// runBatch processes every id in batch within tx, stopping immediately
// (returning the error so the caller rolls back) on any abort-worthy
// per-item error. Only a CoerceError is exempt: it marks the item failed
// and continues, per spec.md §7's "mark item failed, continue batch"
// policy. It returns the ProcessingLog row it intends to commit; the
// caller is responsible for actually committing the transaction.
func (p *Processor) runBatch(ctx context.Context, tx *sql.Tx, siteID, listID string, batch []string, newCursor string, finalize bool) (*ProcessingLog, error) {
	p.setCurrentState(StateProcessing)

	done := make(chan struct{})
	go p.logPeriodically(done, len(batch))
	defer close(done)

	var successful, failed int
	var lastErr string

	for _, id := range batch {
		outcome, err := p.fetchAndStoreItem(ctx, tx, siteID, listID, id)
		if err != nil {
			atomic.StoreInt32(&p.progress.failedItems, int32(failed+1))
			p.progress.lastError.Store(err.Error())
			p.logger.Errorf("item id=%s failed, aborting run: %v", id, err)
			return nil, err
		}
		switch outcome {
		case itemOutcomeSuccess:
			successful++
		case itemOutcomeItemFailed:
			failed++
			lastErr = p.lastItemError
		case itemOutcomeSkipped:
		}
	}

	p.setCurrentState(StateClosing)
	atomic.StoreInt32(&p.progress.successfulItems, int32(successful))
	atomic.StoreInt32(&p.progress.failedItems, int32(failed))
	p.metricsSink.ObserveBatchSize(ctx, len(batch))

	log := &ProcessingLog{
		SiteID:             siteID,
		ListID:             listID,
		LastProcessedAt:    time.Now().UTC(),
		Status:             StatusCompleted,
		SuccessfulItems:    successful,
		FailedItems:        failed,
		LastProcessedCount: successful + failed,
		LastError:          lastErr,
	}
	if finalize {
		log.DeltaLink = newCursor
	}

	id, err := p.insertProcessingLog(ctx, tx, log)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindWriteFailure, "failed to write processing_log row", err)
	}
	log.ID = id
	return log, nil
}

// logPeriodically logs batch progress every statusInterval while a batch
// runs long, adapted from spirit's Runner.dumpStatus.
func (p *Processor) logPeriodically(done <-chan struct{}, batchLen int) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.logger.Infof("batch in progress: state=%s successful=%d failed=%d batch_size=%d",
				p.getCurrentState(), atomic.LoadInt32(&p.progress.successfulItems), atomic.LoadInt32(&p.progress.failedItems), batchLen)
		}
	}
}

type itemOutcome int

const (
	itemOutcomeSuccess itemOutcome = iota
	itemOutcomeSkipped
	itemOutcomeItemFailed
)

// fetchAndStoreItem processes a single item id. The returned error, when
// non-nil, is abort-worthy: the caller must stop the batch and let the
// transaction roll back. itemOutcomeItemFailed with a nil error is the one
// non-abort failure path (a CoerceError), recorded via p.lastItemError.
func (p *Processor) fetchAndStoreItem(ctx context.Context, tx *sql.Tx, siteID, listID, id string) (itemOutcome, error) {
	listItem, err := p.source.GetListItem(ctx, siteID, listID, id)
	if err != nil {
		return itemOutcomeSkipped, syncerr.Wrap(syncerr.KindSourceUnavailable, fmt.Sprintf("get_list_item failed for %s", id), err)
	}
	if !strings.EqualFold(listItem.ProcessFlag, "yes") {
		return itemOutcomeSkipped, nil
	}

	driveItem, err := p.source.GetDriveItem(ctx, siteID, listID, id)
	if err != nil {
		return itemOutcomeSkipped, syncerr.Wrap(syncerr.KindSourceUnavailable, fmt.Sprintf("get_drive_item failed for %s", id), err)
	}
	if Canonicalize(driveItem.ParentPath) != p.watchedPathCanon {
		return itemOutcomeSkipped, nil
	}

	ext := strings.ToLower(filepath.Ext(driveItem.Name))
	if !supportedExtensions[ext] {
		return itemOutcomeSkipped, nil
	}

	rc, err := p.source.Download(ctx, driveItem.DriveID, driveItem.ID)
	if err != nil {
		return itemOutcomeSkipped, syncerr.Wrap(syncerr.KindSourceUnavailable, fmt.Sprintf("download failed for %s", id), err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return itemOutcomeSkipped, syncerr.Wrap(syncerr.KindSourceUnavailable, fmt.Sprintf("failed reading download stream for %s", id), err)
	}

	fp := dedup.Compute(content)
	seen, err := p.ledger.Seen(ctx, tx, fp)
	if err != nil {
		return itemOutcomeSkipped, syncerr.Wrap(syncerr.KindWriteFailure, "dedup ledger lookup failed", err)
	}
	if seen {
		p.metricsSink.IncrDuplicatesSkipped(ctx, 1)
		return itemOutcomeSkipped, nil
	}

	dataset, err := decode.Parse(content, driveItem.Name)
	if err != nil {
		return itemOutcomeSkipped, err // already a *syncerr.Error of KindDecode
	}

	for sheetName := range dataset {
		if _, err := p.registry.SpecBySheet(sheetName); err != nil {
			return itemOutcomeSkipped, syncerr.Wrap(syncerr.KindSchemaMismatch, fmt.Sprintf("sheet %q has no registered TableSpec", sheetName), err)
		}
	}

	// Tables are normalized and handed to the writer in the registry's
	// declaration order, not the dataset's map order.
	var normalizedTables []normalize.Table
	coerceFailed := false
	for _, spec := range p.registry.Tables() {
		tbl, ok := dataset[spec.SheetName]
		if !ok {
			continue
		}
		normTbl, rowErrs, err := normalize.Normalize(spec, tbl)
		if err != nil {
			return itemOutcomeSkipped, err // already a *syncerr.Error of KindSchemaMismatch
		}
		if len(rowErrs) > 0 {
			coerceFailed = true
			p.lastItemError = rowErrs[0].Err.Error()
			continue
		}
		normalizedTables = append(normalizedTables, normTbl)
	}

	if coerceFailed {
		return itemOutcomeItemFailed, nil
	}

	pf := write.ProcessedFile{
		FileName:      driveItem.Name,
		SourceItemID:  id,
		FileHash:      fp.Hash,
		FileSizeBytes: fp.Size,
		Status:        "Success",
	}
	if _, err := p.writer.Write(ctx, tx, pf, normalizedTables); err != nil {
		return itemOutcomeSkipped, err // already a *syncerr.Error of KindWriteFailure
	}

	return itemOutcomeSuccess, nil
}

func (p *Processor) lastProcessingLog(ctx context.Context, tx *sql.Tx, siteID, listID string) (*ProcessingLog, error) {
	row, err := dbconn.QueryRow(ctx, tx,
		"SELECT id, delta_link, last_processed_at, status, successful_items, failed_items, last_error "+
			"FROM %n.%n WHERE site_id = %? AND list_id = %? ORDER BY id DESC LIMIT 1",
		p.schemaName, "processing_log", siteID, listID)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindWriteFailure, "failed to read last processing_log row", err)
	}

	var log ProcessingLog
	log.SiteID = siteID
	log.ListID = listID
	err = row.Scan(&log.ID, &log.DeltaLink, &log.LastProcessedAt, &log.Status, &log.SuccessfulItems, &log.FailedItems, &log.LastError)
	switch err {
	case nil:
		return &log, nil
	case sql.ErrNoRows:
		// No prior row for this (site, list): spec.md §9's Open Question 3
		// treats this as equivalent to "fetch a fresh cursor with zero
		// items", i.e. an empty cursor.
		return nil, nil
	default:
		return nil, syncerr.Wrap(syncerr.KindWriteFailure, "failed to scan last processing_log row", err)
	}
}

func (p *Processor) insertProcessingLog(ctx context.Context, tx *sql.Tx, log *ProcessingLog) (int64, error) {
	res, err := dbconn.ExecResult(ctx, tx,
		"INSERT INTO %n.%n "+
			"(site_id, list_id, delta_link, last_processed_at, status, successful_items, failed_items, last_processed_count, last_error) "+
			"VALUES (%?, %?, %?, %?, %?, %?, %?, %?, %?)",
		p.schemaName, "processing_log", log.SiteID, log.ListID, log.DeltaLink, log.LastProcessedAt, log.Status,
		log.SuccessfulItems, log.FailedItems, log.LastProcessedCount, log.LastError)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
