package crawler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-crawler/internal/logging"
)

// CSVHeader is the first row of every output file.
var CSVHeader = []string{"Region", "Clinic_Name", "Address", "Phone", "Email", "Services"}

const servicesSeparator = "; "

// CSVSink writes one row per record. The header is written on construction so
// a run that aborts early still leaves a well-formed file.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes the header to w and returns a sink over it.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if err := s.w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

// OpenCSVFile creates path (and its parent directory) and returns a sink
// writing to it. An existing file is replaced.
func OpenCSVFile(path string, logger *zap.Logger) (*CSVSink, error) {
	logger = logging.OrNop(logger)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		logger.Warn("overwriting existing output file", zap.String("path", path))
	}
	f, err := os.Create(path) //nolint:gosec // output path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	sink, err := NewCSVSink(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return sink, nil
}

// Write appends record and flushes it.
func (s *CSVSink) Write(record ClinicRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := []string{
		record.Region,
		record.Name,
		record.Address,
		record.Phone,
		record.Email,
		strings.Join(record.Services, servicesSeparator),
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv row: %w", err)
	}
	return nil
}

// Close flushes buffered output and closes the underlying writer when it is
// closable.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
		s.closer = nil
	}
	if err != nil {
		return fmt.Errorf("close csv sink: %w", err)
	}
	return nil
}
