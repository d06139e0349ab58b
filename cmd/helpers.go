package main

import (
	"context"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/urban-recommender/internal/fetcher"
	"github.com/sells-group/urban-recommender/internal/recommender"
	"github.com/sells-group/urban-recommender/internal/report"
	"github.com/sells-group/urban-recommender/internal/store"
)

func initStore(ctx context.Context) (store.ModelStore, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

// newEngine builds an unfitted engine from the recommender config.
func newEngine() (*recommender.Engine, error) {
	opts, err := cfg.RecommenderOptions()
	if err != nil {
		return nil, err
	}
	return recommender.New(opts)
}

// addLoadFlags registers the input flags shared by fit and recommend.
func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("input", "i", nil, "indicator source: path, file://, http(s):// or ftp:// URL (repeatable)")
	cmd.Flags().String("input-format", "", "input format: csv, xlsx, json, shp or zip (default from extension)")
	cmd.Flags().String("delimiter", ",", "CSV field delimiter (use \\t for tab)")
	cmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	cmd.Flags().String("member", "", "file inside a ZIP archive to load")
	cmd.Flags().String("id-column", "", "zone identifier column (default from config)")
	cmd.Flags().String("encoding", "", "CSV/DBF text encoding (default from config)")
	_ = cmd.MarkFlagRequired("input")
}

// loadOptions builds fetcher options from the shared flags and config.
func loadOptions(cmd *cobra.Command) (fetcher.LoadOptions, error) {
	format, _ := cmd.Flags().GetString("input-format")
	delim, _ := cmd.Flags().GetString("delimiter")
	sheet, _ := cmd.Flags().GetString("sheet")
	member, _ := cmd.Flags().GetString("member")
	idColumn, _ := cmd.Flags().GetString("id-column")
	encoding, _ := cmd.Flags().GetString("encoding")

	if idColumn == "" {
		idColumn = cfg.Recommender.IDColumn
	}
	if encoding == "" {
		encoding = cfg.Fetch.Encoding
	}
	d, err := parseDelimiter(delim)
	if err != nil {
		return fetcher.LoadOptions{}, err
	}

	return fetcher.LoadOptions{
		Format:    fetcher.Format(format),
		Delimiter: d,
		Sheet:     sheet,
		Member:    member,
		IDColumn:  idColumn,
		Encoding:  encoding,
		HTTP: fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		},
		FTP: fetcher.FTPOptions{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		},
	}, nil
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, eris.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// openOutput returns stdout for "" or "-", else creates path.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create output %s", path)
	}
	return f, f.Close, nil
}

// writeRecommendations writes res to path, or to stdout when path is "" or "-".
func writeRecommendations(path string, stdout io.Writer, format report.Format, res *recommender.Result, geometries []geom.T) error {
	out, closeOut, err := openOutput(path, stdout)
	if err != nil {
		return err
	}
	if err := report.Write(out, format, res, geometries); err != nil {
		_ = closeOut()
		return err
	}
	return eris.Wrap(closeOut(), "close output")
}

func writeRecordFile(path string, rec *recommender.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create model file %s", path)
	}
	if err := recommender.WriteRecord(f, rec); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "close model file %s", path)
	}
	zap.L().Info("model written", zap.String("path", path), zap.String("fingerprint", rec.Fingerprint))
	return nil
}

func readRecordFile(path string) (*recommender.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open model file %s", path)
	}
	defer f.Close() //nolint:errcheck
	return recommender.ReadRecord(f)
}
