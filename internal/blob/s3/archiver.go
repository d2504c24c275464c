package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these through their ListBefore methods; the archiver never needs
// the write half of the store interfaces.

// OddsArchiveStore provides read access to aged quotes.
type OddsArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Quote, error)
}

// OpportunityArchiveStore provides read access to aged opportunities.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for records
// older than the cutoff, serializing them to JSONL, and uploading the result
// to object storage.
//
// Deletion of the archived rows is not performed here. The retention sweep
// deletes only after the upload has succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	odds   OddsArchiveStore
	opps   OpportunityArchiveStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, odds OddsArchiveStore, opps OpportunityArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		odds:   odds,
		opps:   opps,
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveOdds uploads every quote last updated before the cutoff to a
// cutoff-stamped object under archive/odds/ and returns the count of
// archived records.
func (a *ArchiveImpl) ArchiveOdds(ctx context.Context, before time.Time) (int64, error) {
	quotes, err := a.odds.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive odds query: %w", err)
	}
	if len(quotes) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(quotes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive odds marshal: %w", err)
	}

	path := archivePath("odds", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive odds upload: %w", err)
	}

	count := int64(len(quotes))
	a.logger.Info("archived odds",
		"path", path,
		"count", count,
		"before", before.Format(time.RFC3339))
	return count, nil
}

// ArchiveOpportunities uploads every opportunity last updated before the
// cutoff to a cutoff-stamped object under archive/opportunities/ and returns
// the count.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	count := int64(len(opps))
	a.logger.Info("archived opportunities",
		"path", path,
		"count", count,
		"before", before.Format(time.RFC3339))
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff and keyed by the full cutoff timestamp. Every
// retention run carries a distinct cutoff, so runs never overwrite each
// other's uploads even within the same month.
//
//	archive/odds/2026-08/20260815T060000Z.jsonl
//	archive/opportunities/2026-08/20260815T060000Z.jsonl
func archivePath(kind string, before time.Time) string {
	ts := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, ts.Format("2006-01"), ts.Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
