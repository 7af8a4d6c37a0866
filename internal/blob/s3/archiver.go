package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

// TradeSource exposes one channel's recent trades for archival. The
// trade ledger satisfies it.
type TradeSource interface {
	Recent() []domain.Trade
}

// Archiver serializes trade-ledger snapshots and emitted order
// completions to JSONL and uploads them. Deleting archived data from
// the primary stores is a separate, explicit step executed after the
// archive has been verified.
type Archiver struct {
	writer *Writer
	reader *Reader
}

// NewArchiver creates an Archiver uploading through the given writer.
// Each upload is verified through the reader before being reported.
func NewArchiver(writer *Writer, reader *Reader) *Archiver {
	return &Archiver{writer: writer, reader: reader}
}

// upload puts the object and confirms it is retrievable.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return err
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("verify %s: object missing after upload", path)
	}
	return nil
}

// ArchiveTrades uploads the channel's current ledger contents under
// archive/trades/<exchange>/<pair>/<timestamp>.jsonl and returns the
// object path and record count. An empty ledger uploads nothing.
func (a *Archiver) ArchiveTrades(ctx context.Context, exchange, pair string, src TradeSource) (string, int64, error) {
	trades := src.Recent()
	if len(trades) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := fmt.Sprintf("archive/trades/%s/%s/%s.jsonl",
		exchange, pair, time.Now().UTC().Format("2006-01-02T150405"))
	if err := a.upload(ctx, path, buf); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return path, int64(len(trades)), nil
}

// ArchiveCompletions uploads a batch of order completions under
// archive/completions/<exchange>/YYYY-MM.jsonl, partitioned by month.
func (a *Archiver) ArchiveCompletions(ctx context.Context, exchange string, completions []domain.OrderCompletion) (string, error) {
	if len(completions) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(completions)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive completions marshal: %w", err)
	}

	path := fmt.Sprintf("archive/completions/%s/%s.jsonl",
		exchange, time.Now().UTC().Format("2006-01"))
	if err := a.upload(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive completions upload: %w", err)
	}
	return path, nil
}

// marshalJSONL serialises records as newline-delimited JSON, one
// compact line per record.
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
