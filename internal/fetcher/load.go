package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// Format names an indicator file format.
type Format string

// Supported formats. FormatAuto picks one from the file extension.
const (
	FormatAuto      Format = ""
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatJSON      Format = "json"
	FormatShapefile Format = "shp"
	FormatZIP       Format = "zip"
)

// LoadOptions configures Load and LoadAll.
type LoadOptions struct {
	Format    Format
	Delimiter rune   // CSV only, default ','
	Sheet     string // XLSX only, default first sheet
	Member    string // ZIP only, file name of the data member
	IDColumn  string // zone identifier column, moved into Table.IDs
	Encoding  string // CSV and DBF text encoding, default UTF-8
	HTTP      HTTPOptions
	FTP       FTPOptions
}

// Dataset is a loaded indicator table plus, for shapefile sources, the zone
// geometry of each row.
type Dataset struct {
	Table *indicator.Table
	// Geometries is nil or aligned with Table.Rows. Entries may be nil.
	Geometries []geom.T
}

// Load reads one source. Remote sources (http, https, ftp) are downloaded to a
// temporary file first and removed afterwards.
func Load(ctx context.Context, source string, opts LoadOptions) (*Dataset, error) {
	local, cleanup, err := fetchSource(ctx, source, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: fetch %s", source)
	}
	defer cleanup()

	format, err := detectFormat(local, opts.Format)
	if err != nil {
		return nil, err
	}
	ds, err := loadFile(ctx, local, format, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: load %s", source)
	}

	zap.L().Info("fetcher: loaded source",
		zap.String("source", source),
		zap.String("format", string(format)),
		zap.Int("rows", ds.Table.Len()),
		zap.Int("columns", len(ds.Table.ColumnSet())),
	)
	return ds, nil
}

// LoadAll loads sources concurrently and concatenates them in argument order.
// Columns are unioned; geometries stay aligned, with nil for rows from
// sources that carry none.
func LoadAll(ctx context.Context, sources []string, opts LoadOptions) (*Dataset, error) {
	if len(sources) == 0 {
		return nil, eris.New("fetcher: no sources given")
	}

	results := make([]*Dataset, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range sources {
		g.Go(func() error {
			ds, err := Load(gctx, src, opts)
			if err != nil {
				return err
			}
			results[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeDatasets(results), nil
}

func mergeDatasets(parts []*Dataset) *Dataset {
	out := &Dataset{Table: &indicator.Table{}}
	withGeom := false
	for _, ds := range parts {
		if ds.Geometries != nil {
			withGeom = true
		}
	}
	for _, ds := range parts {
		if withGeom {
			if ds.Geometries != nil {
				out.Geometries = append(out.Geometries, ds.Geometries...)
			} else {
				out.Geometries = append(out.Geometries, make([]geom.T, ds.Table.Len())...)
			}
		}
		out.Table.Append(ds.Table)
	}
	return out
}

// detectFormat honors an explicit format, else maps the file extension.
func detectFormat(p string, explicit Format) (Format, error) {
	if explicit != FormatAuto {
		switch explicit {
		case FormatCSV, FormatXLSX, FormatJSON, FormatShapefile, FormatZIP:
			return explicit, nil
		}
		return "", eris.Errorf("fetcher: unknown format %q", explicit)
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	case ".shp":
		return FormatShapefile, nil
	case ".zip":
		return FormatZIP, nil
	}
	return "", eris.Errorf("fetcher: cannot infer format of %q; set a format", p)
}

func loadFile(ctx context.Context, p string, format Format, opts LoadOptions) (*Dataset, error) {
	switch format {
	case FormatCSV:
		f, err := os.Open(p)
		if err != nil {
			return nil, eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck
		r, err := decodeReader(f, opts.Encoding)
		if err != nil {
			return nil, err
		}
		t, err := ReadCSVTable(ctx, r, CSVOptions{Delimiter: opts.Delimiter, TrimSpace: true, LazyQuotes: true}, opts.IDColumn)
		if err != nil {
			return nil, err
		}
		return &Dataset{Table: t}, nil

	case FormatXLSX:
		t, err := ReadXLSXTable(p, XLSXOptions{SheetName: opts.Sheet}, opts.IDColumn)
		if err != nil {
			return nil, err
		}
		return &Dataset{Table: t}, nil

	case FormatJSON:
		f, err := os.Open(p)
		if err != nil {
			return nil, eris.Wrap(err, "open json")
		}
		defer f.Close() //nolint:errcheck
		t, err := ReadJSONTable(ctx, f, opts.IDColumn)
		if err != nil {
			return nil, err
		}
		return &Dataset{Table: t}, nil

	case FormatShapefile:
		t, geoms, err := ReadShapefile(p, opts.IDColumn, opts.Encoding)
		if err != nil {
			return nil, err
		}
		return &Dataset{Table: t, Geometries: geoms}, nil

	case FormatZIP:
		dir, err := os.MkdirTemp("", "urban-zip-*")
		if err != nil {
			return nil, eris.Wrap(err, "zip: temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		files, err := ExtractZIP(p, dir)
		if err != nil {
			return nil, err
		}
		member, err := dataMember(files, opts.Member)
		if err != nil {
			return nil, err
		}
		inner, err := detectFormat(member, FormatAuto)
		if err != nil {
			return nil, err
		}
		if inner == FormatZIP {
			return nil, eris.New("zip: nested archives are not supported")
		}
		return loadFile(ctx, member, inner, opts)
	}
	return nil, eris.Errorf("fetcher: unknown format %q", format)
}

// fetchSource returns a local path for source, downloading remote sources to
// a temporary directory. The cleanup func is always safe to call.
func fetchSource(ctx context.Context, source string, opts LoadOptions) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a one-letter scheme is a Windows drive).
		if _, statErr := os.Stat(source); statErr != nil {
			return "", noop, eris.Wrap(statErr, "stat source")
		}
		return source, noop, nil
	}

	var f Fetcher
	switch u.Scheme {
	case "http", "https":
		f = NewHTTPFetcher(opts.HTTP)
	case "ftp":
		f = NewFTPFetcher(opts.FTP)
	case "file":
		return fetchSource(ctx, u.Path, opts)
	default:
		return "", noop, eris.Errorf("unsupported scheme %q", u.Scheme)
	}

	dir, err := os.MkdirTemp("", "urban-fetch-*")
	if err != nil {
		return "", noop, eris.Wrap(err, "temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	dest := filepath.Join(dir, name)
	n, err := f.DownloadToFile(ctx, source, dest)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	zap.L().Debug("fetcher: downloaded source",
		zap.String("source", source),
		zap.Int64("bytes", n),
	)
	return dest, cleanup, nil
}
