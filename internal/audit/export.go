package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports scan events as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports scan events as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures a scan log export.
type ExportOptions struct {
	Format ExportFormat // export format (csv or json)
	From   time.Time    // start of time range, inclusive; zero means unbounded
	To     time.Time    // end of time range, inclusive; zero means unbounded
	Limit  int          // maximum number of entries (0 = no limit)
}

// ExportScans exports the scan log of one event in the requested format,
// newest first. Security teams pull these after an incident; the format is
// meant to open directly in a spreadsheet.
func ExportScans(ctx context.Context, repo ScanRepository, eventID string, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	// Time filtering happens here, so fetch without limit and trim after.
	scans, err := repo.ListByEvent(ctx, eventID, 0)
	if err != nil {
		return nil, fmt.Errorf("export scans: %w", err)
	}

	filtered := make([]*ScanEvent, 0, len(scans))
	for _, s := range scans {
		if !opts.From.IsZero() && s.ScannedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && s.ScannedAt.After(opts.To) {
			continue
		}
		filtered = append(filtered, s)
		if opts.Limit > 0 && len(filtered) >= opts.Limit {
			break
		}
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportScansCSV(filtered)
	default:
		return json.Marshal(filtered)
	}
}

func exportScansCSV(scans []*ScanEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "credential_id", "event_id", "outcome", "reason", "scanned_at"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, s := range scans {
		record := []string{
			s.ID,
			s.CredentialID,
			s.EventID,
			s.Outcome,
			s.Reason,
			s.ScannedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
