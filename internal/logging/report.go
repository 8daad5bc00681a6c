package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrorNoteHeader separates the buffered run log from the fault detail.
const ErrorNoteHeader = "----- ERROR NOTE -----"

// ObjectWriter stores a named file in the output directory.
type ObjectWriter interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ReportBuffer keeps the formatted log lines of the current run. It is a
// zapcore.WriteSyncer so it can sit behind its own core.
type ReportBuffer struct {
	mu    sync.Mutex
	lines []string
}

// NewReportBuffer returns an empty buffer.
func NewReportBuffer() *ReportBuffer {
	return &ReportBuffer{}
}

// Write implements io.Writer; each call may carry several newline terminated entries.
func (b *ReportBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		b.lines = append(b.lines, line)
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer.
func (b *ReportBuffer) Sync() error {
	return nil
}

// Lines returns a copy of the buffered lines.
func (b *ReportBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Tail returns at most n of the latest lines.
func (b *ReportBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	return append([]string(nil), b.lines[len(b.lines)-n:]...)
}

// Reset drops every buffered line.
func (b *ReportBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
}

// ErrorReportName is the report file name for a run timestamp.
func ErrorReportName(runStamp string) string {
	return runStamp + "_scrape_error.log"
}

// WriteErrorReport writes the buffered lines followed by the error note.
func (b *ReportBuffer) WriteErrorReport(ctx context.Context, out ObjectWriter, runStamp, note string) (string, error) {
	var buf bytes.Buffer
	for _, line := range b.Lines() {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "\n%s\n%s", ErrorNoteHeader, note)
	path, err := out.PutObject(ctx, ErrorReportName(runStamp), "text/plain; charset=utf-8", &buf)
	if err != nil {
		return "", fmt.Errorf("write error report: %w", err)
	}
	return path, nil
}

func reportEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("[2006-01-02 15:04:05]")
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("(" + l.CapitalString() + ")")
	}
	return cfg
}

// RunLogger tees base into the report buffer and, when filePath is set, a
// log file truncated at the start of every run. The returned close func
// releases the file.
func RunLogger(base *zap.Logger, report *ReportBuffer, filePath string) (*zap.Logger, func() error, error) {
	enc := zapcore.NewConsoleEncoder(reportEncoderConfig())
	cores := []zapcore.Core{
		base.Core(),
		zapcore.NewCore(enc, report, zapcore.InfoLevel),
	}
	closeFn := func() error { return nil }
	if filePath != "" {
		if dir := filepath.Dir(filePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create run log dir: %w", err)
			}
		}
		f, err := os.Create(filePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open run log %s: %w", filePath, err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), zapcore.InfoLevel))
		closeFn = f.Close
	}
	return zap.New(zapcore.NewTee(cores...)), closeFn, nil
}
