package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/urban-recommender/internal/fetcher"
	"github.com/sells-group/urban-recommender/internal/recommender"
	"github.com/sells-group/urban-recommender/internal/report"
)

type fitParams struct {
	inputs []string
	load   fetcher.LoadOptions
	output string
	save   bool
	// recommendations, when set, also writes the training zones'
	// recommendations there ("-" for stdout) in format.
	recommendations string
	format          report.Format
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit the PCA pipeline on indicator data",
	Long:  "Loads one or more indicator sources, fits imputation, scaling and PCA, prints the retained components and optionally persists the model.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("fit"); err != nil {
			return err
		}

		p := fitParams{}
		p.inputs, _ = cmd.Flags().GetStringSlice("input")
		p.output, _ = cmd.Flags().GetString("output")
		p.save, _ = cmd.Flags().GetBool("save")
		p.recommendations, _ = cmd.Flags().GetString("recommendations")

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

		return runFit(cmd.Context(), cmd.OutOrStdout(), p)
	},
}

func runFit(ctx context.Context, out io.Writer, p fitParams) error {
	ds, err := fetcher.LoadAll(ctx, p.inputs, p.load)
	if err != nil {
		return eris.Wrap(err, "fit")
	}

	e, err := newEngine()
	if err != nil {
		return err
	}
	var (
		summary *recommender.FitSummary
		res     *recommender.Result
	)
	if p.recommendations != "" {
		summary, res, err = e.FitTransform(ds.Table)
	} else {
		summary, err = e.Fit(ds.Table)
	}
	if err != nil {
		return eris.Wrap(err, "fit")
	}
	if err := report.WriteFitSummary(out, summary); err != nil {
		return err
	}
	if res != nil {
		if err := writeRecommendations(p.recommendations, out, p.format, res, ds.Geometries); err != nil {
			return err
		}
	}

	if p.output == "" && !p.save {
		return nil
	}
	rec, err := e.Export()
	if err != nil {
		return err
	}

	if p.output != "" {
		if err := writeRecordFile(p.output, rec); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "\nModel written to %s\n", p.output)
	}

	if p.save {
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		info, err := st.SaveModel(ctx, rec)
		if err != nil {
			return eris.Wrap(err, "fit: save model")
		}
		zap.L().Info("model saved", zap.String("model_id", info.ID))
		_, _ = fmt.Fprintf(out, "\nModel saved with id %s\n", info.ID)
	}
	return nil
}

func init() {
	addLoadFlags(fitCmd)
	fitCmd.Flags().StringP("output", "o", "", "write the fitted model record to this file")
	fitCmd.Flags().Bool("save", false, "save the fitted model to the model store")
	fitCmd.Flags().String("recommendations", "", "also write recommendations for the training zones to this file (- for stdout)")
	fitCmd.Flags().StringP("format", "f", string(report.FormatTable), "recommendations format: table, csv, json or geojson")
	rootCmd.AddCommand(fitCmd)
}
