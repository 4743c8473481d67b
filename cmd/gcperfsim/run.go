package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/container-resource-predictor/gcperfsim/internal/config"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/api"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/metrics"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/results"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/runner"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
	"github.com/container-resource-predictor/gcperfsim/pkg/common"
)

func runSimulation(cmd *cobra.Command, cfg *workload.Config, rf runFlags) error {
	env, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := common.SetupLogger(cmd.ErrOrStderr(), env.LogLevel, env.LogFormat)
	if err != nil {
		return err
	}
	statusAddr := env.StatusAddr
	if rf.statusAddr != "" {
		statusAddr = rf.statusAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	r, err := runner.New(runner.Options{
		Config:   cfg,
		RunID:    rf.runID,
		Out:      cmd.OutOrStdout(),
		Observer: m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if statusAddr != "" {
		srv := common.NewServer("gcperfsim", statusAddr, reg)
		api.NewHandler(r).RegisterRoutes(srv.Router())
		if err := srv.Listen(); err != nil {
			return errors.Wrap(err, "status server")
		}
		srvCtx, cancel := context.WithCancel(context.Background())
		done := srv.Serve(srvCtx)
		defer func() {
			cancel()
			if err := <-done; err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	res, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.EndPanic {
		runtime.GC()
		panic(errors.Newf("run %s finished; panicking for post-mortem debugging", r.RunID()))
	}

	if err := runner.WriteStats(cmd.OutOrStdout(), res); err != nil {
		return errors.Wrap(err, "write stats")
	}
	return persist(env, res, cfg)
}

// persist stores the report and the history row when configured.
func persist(env *config.Config, res *runner.Result, cfg *workload.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), env.PersistTimeout)
	defer cancel()

	if env.StoreResults() {
		storage, err := results.NewStorage(ctx, &env.Results)
		if err != nil {
			return err
		}
		if _, err := storage.Store(ctx, res); err != nil {
			return err
		}
	}

	if db := env.History(); db != nil {
		h, err := results.OpenHistory(ctx, db)
		if err != nil {
			return err
		}
		defer h.Close()
		if err := h.Record(ctx, res, cfg); err != nil {
			return err
		}
	}
	return nil
}
