package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/urban-recommender/internal/fetcher"
	"github.com/sells-group/urban-recommender/internal/recommender"
	"github.com/sells-group/urban-recommender/internal/report"
)

type recommendParams struct {
	inputs    []string
	load      fetcher.LoadOptions
	modelFile string
	modelID   string
	format    report.Format
	output    string
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend interventions per zone with a fitted model",
	Long:  "Restores a fitted model (from a file, a stored id, or the latest stored model) and writes one recommendation per input zone.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("recommend"); err != nil {
			return err
		}

		p := recommendParams{}
		p.inputs, _ = cmd.Flags().GetStringSlice("input")
		p.modelFile, _ = cmd.Flags().GetString("model")
		p.modelID, _ = cmd.Flags().GetString("model-id")
		p.output, _ = cmd.Flags().GetString("output")
		if p.modelFile != "" && p.modelID != "" {
			return eris.New("recommend: --model and --model-id are mutually exclusive")
		}

		formatName, _ := cmd.Flags().GetString("format")
		format, err := report.ParseFormat(formatName)
		if err != nil {
			return err
		}
		p.format = format

		load, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		p.load = load

		return runRecommend(cmd.Context(), cmd.OutOrStdout(), p)
	},
}

func runRecommend(ctx context.Context, stdout io.Writer, p recommendParams) error {
	e, err := resolveModel(ctx, p.modelFile, p.modelID)
	if err != nil {
		return err
	}

	ds, err := fetcher.LoadAll(ctx, p.inputs, p.load)
	if err != nil {
		return eris.Wrap(err, "recommend")
	}
	res, err := e.Transform(ds.Table)
	if err != nil {
		return eris.Wrap(err, "recommend")
	}

	return writeRecommendations(p.output, stdout, p.format, res, ds.Geometries)
}

// resolveModel restores the engine from a record file, a stored id, or the
// latest stored model, in that order of preference.
func resolveModel(ctx context.Context, file, id string) (*recommender.Engine, error) {
	if file != "" {
		rec, err := readRecordFile(file)
		if err != nil {
			return nil, err
		}
		return recommender.Restore(rec)
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	if id != "" {
		m, err := st.GetModel(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "recommend: model %s", id)
		}
		return recommender.Restore(m.Record)
	}

	m, err := st.LatestModel(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "recommend: no --model given and no stored model")
	}
	zap.L().Info("using latest stored model", zap.String("model_id", m.ID), zap.Time("created_at", m.CreatedAt))
	return recommender.Restore(m.Record)
}

func init() {
	addLoadFlags(recommendCmd)
	recommendCmd.Flags().String("model", "", "fitted model record file")
	recommendCmd.Flags().String("model-id", "", "stored model id")
	recommendCmd.Flags().StringP("format", "f", "table", "output format: table, csv, json or geojson")
	recommendCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(recommendCmd)
}
