package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		// Expect opening bracket
		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		// Consume closing bracket
		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// DecodeJSONObject decodes a single JSON object from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}

// dataEnvelope is the request-body shape {"data": [...]}.
type dataEnvelope struct {
	Data []map[string]any `json:"data"`
}

// ReadJSONTable reads either a bare array of records or an object with a
// "data" array.
func ReadJSONTable(ctx context.Context, r io.Reader, idColumn string) (*indicator.Table, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, eris.Wrap(err, "json: read input")
	}

	var records []map[string]any
	switch first {
	case '[':
		itemCh, errCh := DecodeJSONArray[map[string]any](ctx, br)
		for item := range itemCh {
			records = append(records, item)
		}
		if err := <-errCh; err != nil {
			return nil, err
		}
	case '{':
		env, err := DecodeJSONObject[dataEnvelope](br)
		if err != nil {
			return nil, err
		}
		if env.Data == nil {
			return nil, eris.New(`json: object has no "data" array`)
		}
		records = env.Data
	default:
		return nil, eris.Errorf("json: expected an array or object, got %q", first)
	}

	return TableFromRecords(records, idColumn), nil
}

// TableFromRecords builds a table from decoded JSON records, moving the id
// column (when set and present) into Table.IDs.
func TableFromRecords(records []map[string]any, idColumn string) *indicator.Table {
	t := &indicator.Table{Rows: make([]indicator.Row, 0, len(records))}
	hasIDs := false
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		row := make(indicator.Row, len(rec))
		id := ""
		for k, v := range rec {
			if idColumn != "" && k == idColumn {
				id = idString(v)
				hasIDs = true
				continue
			}
			row[k] = v
		}
		t.Rows = append(t.Rows, row)
		ids = append(ids, id)
	}
	if hasIDs {
		t.IDs = ids
	}
	return t
}

func idString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// peekNonSpace returns the first significant byte without consuming it,
// skipping a UTF-8 byte order mark and leading whitespace.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	if bom, err := br.Peek(3); err == nil && string(bom) == "\ufeff" {
		br.Discard(3) //nolint:errcheck
	}
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(rune(b[0])) {
			return b[0], nil
		}
		br.Discard(1) //nolint:errcheck
	}
}
