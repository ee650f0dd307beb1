// Package file implements the file-pair sink: the dataset rendered as a JSON
// array and as a CSV table, written through a blob store.
package file

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// DefaultBaseName is the export name used when none is configured.
const DefaultBaseName = "CRS_draw_score_history"

// Name identifies this sink in logs and errors.
const Name = "file"

// Header is the CSV header row; the leading empty column holds the row index.
var Header = []string{"", "date", "program", "invitations", "lowest_crs"}

// BlobStore writes an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Sink writes <base>.json and <base>.csv.
type Sink struct {
	store    BlobStore
	baseName string
	logger   *zap.Logger
}

// New returns a file sink writing through store.
func New(store BlobStore, baseName string, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if baseName == "" {
		baseName = DefaultBaseName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, baseName: baseName, logger: logger}, nil
}

// Name implements etl.Sink.
func (s *Sink) Name() string { return Name }

// Persist renders both documents, then writes them, replacing earlier exports.
func (s *Sink) Persist(ctx context.Context, ds etl.Dataset) error {
	jsonDoc, err := EncodeJSON(ds)
	if err != nil {
		return &etl.SinkError{Sink: Name, Op: "encode json", Err: err}
	}
	csvDoc, err := EncodeCSV(ds)
	if err != nil {
		return &etl.SinkError{Sink: Name, Op: "encode csv", Err: err}
	}

	for _, doc := range []struct {
		ext, contentType string
		data             []byte
	}{
		{".json", "application/json", jsonDoc},
		{".csv", "text/csv; charset=utf-8", csvDoc},
	} {
		uri, err := s.store.PutObject(ctx, s.baseName+doc.ext, doc.contentType, bytes.NewReader(doc.data))
		if err != nil {
			return &etl.SinkError{Sink: Name, Op: "write " + s.baseName + doc.ext, Err: err}
		}
		s.logger.Info("export written", zap.String("uri", uri), zap.Int("bytes", len(doc.data)))
	}
	return nil
}

// Close implements etl.Sink. The store, when it needs closing, is owned by
// whoever created it.
func (s *Sink) Close() error {
	if c, ok := s.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// EncodeJSON renders the dataset as a compact JSON array; an empty dataset
// renders as [].
func EncodeJSON(ds etl.Dataset) ([]byte, error) {
	if ds == nil {
		ds = etl.Dataset{}
	}
	data, err := json.Marshal(ds)
	if err != nil {
		return nil, fmt.Errorf("marshal dataset: %w", err)
	}
	return data, nil
}

// EncodeCSV renders the header row and one row per record, each prefixed
// with its 0-based index.
func EncodeCSV(ds etl.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, r := range ds {
		row := []string{
			strconv.Itoa(i),
			r.Date,
			r.Program,
			strconv.Itoa(r.Invitations),
			strconv.Itoa(r.LowestCRS),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
