package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mwirth/immoharvest/internal/domain"
)

// CSVSink appends records to one CSV file per source.
//
// The header is written on the first record. When no column order is
// configured, the first record's field names (sorted) fix the header for
// the rest of the file; later records with extra fields have those fields
// dropped, and missing fields get the configured placeholder.
type CSVSink struct {
	mu          sync.Mutex
	file        *os.File
	writer      *csv.Writer
	columns     []string
	placeholder string
	headerDone  bool
}

// NewCSV opens (or creates) the CSV file for appending.
func NewCSV(path string, columns []string, placeholder string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	info, err := os.Stat(path)
	exists := err == nil && info.Size() > 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}

	return &CSVSink{
		file:        f,
		writer:      csv.NewWriter(f),
		columns:     columns,
		placeholder: placeholder,
		headerDone:  exists, // resuming into an existing file, header already there
	}, nil
}

func (s *CSVSink) Write(ctx context.Context, record *domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.columns) == 0 {
		s.columns = make([]string, 0, len(record.Fields)+2)
		for name := range record.Fields {
			s.columns = append(s.columns, name)
		}
		sort.Strings(s.columns)
		s.columns = append(s.columns, "Listing ID", "URL")
	}

	if !s.headerDone {
		if err := s.writer.Write(s.columns); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		s.headerDone = true
	}

	row := make([]string, len(s.columns))
	for i, col := range s.columns {
		switch col {
		case "Listing ID":
			row[i] = record.ListingID
		case "URL":
			row[i] = record.Unit
		default:
			if v, ok := record.Fields[col]; ok && v != "" {
				row[i] = v
			} else {
				row[i] = s.placeholder
			}
		}
	}

	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}

	// Flush per record: the sink is append-only and a crash must lose at
	// most rows whose units were never marked completed.
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
