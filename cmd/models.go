package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/urban-recommender/internal/store"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect stored models",
	Long:  "Commands for listing and viewing fitted models in the model store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("models")
	},
}

// -- models list --

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored models, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runModelsList(cmd.Context(), cmd.OutOrStdout(), limit)
	},
}

func runModelsList(ctx context.Context, out io.Writer, limit int) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	models, err := st.ListModels(ctx, limit)
	if err != nil {
		return eris.Wrap(err, "models list")
	}
	if len(models) == 0 {
		fmt.Fprintln(os.Stderr, "No models found.")
		return nil
	}

	formatModelsList(out, models)
	return nil
}

// -- models show --

var modelsShowCmd = &cobra.Command{
	Use:   "show <model-id>",
	Short: "Show a stored model record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModelsShow(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func runModelsShow(ctx context.Context, out io.Writer, id string) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	m, err := st.GetModel(ctx, id)
	if err != nil {
		return eris.Wrap(err, "models show")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func init() {
	modelsListCmd.Flags().Int("limit", store.DefaultListLimit, "max number of models to display")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsShowCmd)
	rootCmd.AddCommand(modelsCmd)
}

// formatModelsList writes a tabular list of models to out.
func formatModelsList(out io.Writer, models []store.ModelInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVERSION\tCOMPONENTS\tFINGERPRINT\tCREATED")
	for _, m := range models {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.ModelVersion, m.NComponents, m.Fingerprint,
			m.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()
}
