package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"
)

// BlobStore persists output objects below an output directory.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// WriterConfig names the output files.
type WriterConfig struct {
	// Extension of the tabular file; "tsv" switches the delimiter to a tab.
	Extension      string
	ImageExtension string
	Images         bool
}

// Paths reports where a flush wrote its output.
type Paths struct {
	Table      string   `json:"table,omitempty"`
	ImageDir   string   `json:"image_dir,omitempty"`
	ImageFiles []string `json:"image_files,omitempty"`
}

// Writer flushes a Result as one tabular file plus an image directory.
type Writer struct {
	cfg    WriterConfig
	store  BlobStore
	logger *zap.Logger
}

// NewWriter builds a Writer over store.
func NewWriter(cfg WriterConfig, store BlobStore, logger *zap.Logger) *Writer {
	if cfg.Extension == "" {
		cfg.Extension = "csv"
	}
	if cfg.ImageExtension == "" {
		cfg.ImageExtension = "jpg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{cfg: cfg, store: store, logger: logger}
}

// TableName is the tabular file name for a run timestamp.
func (w *Writer) TableName(runStamp string) string {
	return fmt.Sprintf("%s_scrape.%s", runStamp, w.cfg.Extension)
}

// ImageDirName is the image directory name for a run timestamp.
func (w *Writer) ImageDirName(runStamp string) string {
	return runStamp + "_images"
}

// Flush writes images first, then the table. The header comes from the first
// record; fallbackFields is used when the run produced no records.
func (w *Writer) Flush(ctx context.Context, result *Result, runStamp string, fallbackFields []string) (Paths, error) {
	var out Paths
	if w.cfg.Images {
		dir := w.ImageDirName(runStamp)
		for _, img := range result.Images() {
			name := path.Join(dir, img.Name+"."+w.cfg.ImageExtension)
			written, err := w.store.PutObject(ctx, name, "image/"+w.cfg.ImageExtension, bytes.NewReader(img.Data))
			if err != nil {
				return out, fmt.Errorf("write image %s: %w", name, err)
			}
			out.ImageFiles = append(out.ImageFiles, written)
		}
		out.ImageDir = dir
		w.logger.Info("images saved", zap.String("dir", dir), zap.Int("count", len(out.ImageFiles)))
	}

	table, err := w.encodeTable(result, fallbackFields)
	if err != nil {
		return out, err
	}
	written, err := w.store.PutObject(ctx, w.TableName(runStamp), "text/csv; charset=utf-8", bytes.NewReader(table))
	if err != nil {
		return out, fmt.Errorf("write table: %w", err)
	}
	out.Table = written
	w.logger.Info("output file saved", zap.String("path", written), zap.Int("rows", result.Len()))
	return out, nil
}

func (w *Writer) encodeTable(result *Result, fallbackFields []string) ([]byte, error) {
	records := result.Records()
	header := fallbackFields
	if len(records) > 0 {
		header = records[0].Fields()
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if strings.EqualFold(w.cfg.Extension, "tsv") {
		cw.Comma = '\t'
	}
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		row := make([]string, len(header))
		for i, name := range header {
			row[i] = rec.String(name)
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush table: %w", err)
	}
	return buf.Bytes(), nil
}
