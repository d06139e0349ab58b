package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads a CSV file and sends rows to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSVTable reads a CSV whose first row is the header into a table. Cells
// stay strings; the recommender decides what is numeric.
func ReadCSVTable(ctx context.Context, r io.Reader, opts CSVOptions, idColumn string) (*indicator.Table, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)

	var header []string
	var records [][]string
	for rec := range rowCh {
		if header == nil {
			header = rec
			continue
		}
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, eris.New("csv: missing header row")
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	return tableFromRecords(header, records, idColumn), nil
}

// tableFromRecords turns a header plus string records into a table. The id
// column, when present, fills Table.IDs and is not kept as an indicator.
// Short records leave their trailing columns unset.
func tableFromRecords(header []string, records [][]string, idColumn string) *indicator.Table {
	idIdx := -1
	t := &indicator.Table{Rows: make([]indicator.Row, 0, len(records))}
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		if h == "" {
			continue
		}
		if idColumn != "" && h == idColumn && idIdx < 0 {
			idIdx = i
			continue
		}
		t.Columns = append(t.Columns, h)
	}

	for _, rec := range records {
		row := make(indicator.Row, len(t.Columns))
		for i, cell := range rec {
			if i >= len(header) || header[i] == "" || i == idIdx {
				continue
			}
			row[header[i]] = cell
		}
		t.Rows = append(t.Rows, row)
		if idIdx >= 0 {
			id := ""
			if idIdx < len(rec) {
				id = strings.TrimSpace(rec[idIdx])
			}
			t.IDs = append(t.IDs, id)
		}
	}
	return t
}
