// Package report renders recommendation results for the command line.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/urban-recommender/internal/recommender"
)

// Format names an output format.
type Format string

// Output formats.
const (
	FormatTable   Format = "table"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
)

// ParseFormat validates a format name. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatCSV, FormatJSON, FormatGeoJSON:
		return f, nil
	}
	return "", eris.Errorf("report: unknown format %q (want table, csv, json or geojson)", s)
}

var csvHeader = []string{
	"zone_id", "weak_component", "weak_score", "worst_feature",
	"worst_feature_z", "recommended_intervention",
}

// Write renders res in the given format. geometries is optional; when set it
// must be aligned with res.Recommendations and is only used for geojson.
func Write(w io.Writer, format Format, res *recommender.Result, geometries []geom.T) error {
	if res == nil {
		return eris.New("report: nil result")
	}
	switch format {
	case FormatTable, "":
		return writeTable(w, res)
	case FormatCSV:
		return writeCSV(w, res)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "report: encode json")
	case FormatGeoJSON:
		return writeGeoJSON(w, res, geometries)
	}
	return eris.Errorf("report: unknown format %q", format)
}

func writeTable(out io.Writer, res *recommender.Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tZONE\tWEAK_PC\tSCORE\tWORST_FEATURE\tZ\tINTERVENTION")
	for i, r := range res.Recommendations {
		zone := r.ZoneID
		if zone == "" {
			zone = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\t%s\t%s\t%s\n",
			i, zone, r.WeakComponent, r.WeakScore,
			derefString(r.WorstFeature, "-"), formatOptional(r.WorstFeatureZ, 3, "-"),
			r.RecommendedIntervention,
		)
	}
	return eris.Wrap(w.Flush(), "report: flush table")
}

func writeCSV(out io.Writer, res *recommender.Result) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, r := range res.Recommendations {
		rec := []string{
			r.ZoneID,
			r.WeakComponent,
			strconv.FormatFloat(r.WeakScore, 'g', -1, 64),
			derefString(r.WorstFeature, ""),
			formatOptional(r.WorstFeatureZ, -1, ""),
			r.RecommendedIntervention,
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "report: flush csv")
}

func writeGeoJSON(out io.Writer, res *recommender.Result, geometries []geom.T) error {
	if geometries != nil && len(geometries) != len(res.Recommendations) {
		return eris.Errorf("report: %d geometries for %d recommendations", len(geometries), len(res.Recommendations))
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(res.Recommendations))}
	for i, r := range res.Recommendations {
		f := &geojson.Feature{
			ID: r.ZoneID,
			Properties: map[string]any{
				"weak_component":           r.WeakComponent,
				"weak_score":               r.WeakScore,
				"worst_feature":            r.WorstFeature,
				"worst_feature_z":          r.WorstFeatureZ,
				"recommended_intervention": r.RecommendedIntervention,
			},
		}
		if geometries != nil {
			f.Geometry = geometries[i]
		}
		fc.Features = append(fc.Features, f)
	}

	b, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "report: encode geojson")
	}
	if _, err := out.Write(append(b, '\n')); err != nil {
		return eris.Wrap(err, "report: write geojson")
	}
	return nil
}

// WriteFitSummary prints the retained components of a fit.
func WriteFitSummary(out io.Writer, s *recommender.FitSummary) error {
	if s == nil {
		return eris.New("report: nil fit summary")
	}
	_, _ = fmt.Fprintf(out, "Status: %s\nComponents: %d\nColumns used: %d\n\n", s.Status, s.NComponents, len(s.ColumnsUsed))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPONENT\tRATIO\tCUMULATIVE")
	for _, ev := range s.ExplainedVariance {
		_, _ = fmt.Fprintf(w, "%s\t%.4f\t%.4f\n", ev.Component, ev.ExplainedVarianceRatio, ev.CumulativeVariance)
	}
	return eris.Wrap(w.Flush(), "report: flush fit summary")
}

func derefString(s *string, empty string) string {
	if s == nil {
		return empty
	}
	return *s
}

func formatOptional(v *float64, prec int, empty string) string {
	if v == nil {
		return empty
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
