package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/urban-recommender/internal/api"
	"github.com/sells-group/urban-recommender/internal/recommender"
	"github.com/sells-group/urban-recommender/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommender HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		srv, err := buildServer(ctx, st)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, cfg.Server.Port)
	},
}

// buildServer creates the engine, restores the latest stored model when
// there is one, and wires the API server.
func buildServer(ctx context.Context, st store.ModelStore) (*api.Server, error) {
	e, err := newEngine()
	if err != nil {
		return nil, err
	}
	if err := restoreLatest(ctx, e, st); err != nil {
		return nil, err
	}

	return api.NewServer(api.Config{
		Engine:        e,
		Store:         st,
		IDColumn:      cfg.Recommender.IDColumn,
		FitRatePerSec: cfg.Server.FitRatePerSec,
		FitBurst:      cfg.Server.FitBurst,
		CORSOrigins:   cfg.Server.CORSOrigins,
		MaxBodyBytes:  int64(cfg.Server.MaxBodyMB) << 20,
	}), nil
}

// restoreLatest loads the newest stored model into e. An empty store or an
// unusable record leaves e unfitted.
func restoreLatest(ctx context.Context, e *recommender.Engine, st store.ModelStore) error {
	if st == nil {
		return nil
	}
	m, err := st.LatestModel(ctx, "")
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Info("no stored model, serving unfitted")
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.Load(m.Record); err != nil {
		zap.L().Warn("stored model rejected, serving unfitted",
			zap.String("model_id", m.ID),
			zap.Error(err),
		)
		return nil
	}
	zap.L().Info("restored stored model",
		zap.String("model_id", m.ID),
		zap.String("fingerprint", m.Fingerprint),
	)
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
