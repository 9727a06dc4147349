package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tsflow/api/pkg/config"
	"tsflow/api/pkg/db"
	"tsflow/api/pkg/httpx"
	"tsflow/api/services/datasets"
	"tsflow/api/services/workflow"
)

var (
	configFile   string
	workflowID   string
	pipelineFile string

	rootCmd = &cobra.Command{
		Use:           "tsflow",
		Short:         "Time-series processing workflows over a DAG of operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute one pass of a stored workflow and print the result",
		RunE:  runWorkflow,
	}

	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Create a workflow from a pipeline YAML file",
		RunE:  runImport,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE:  runMigrate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")

	runCmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "workflow ID")
	_ = runCmd.MarkFlagRequired("workflow")

	importCmd.Flags().StringVarP(&pipelineFile, "file", "f", "", "pipeline YAML file")
	_ = importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd, runCmd, importCmd, migrateCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg)
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	dsService, err := datasets.NewService(a.datasets)
	if err != nil {
		return err
	}

	// setup router
	mainRouter := mux.NewRouter()
	mainRouter.Use(httpx.RequestID)
	mainRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	dsService.LoadRoutes(apiRouter)
	a.workflow.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", httpx.RequestIDHeader}),
		handlers.ExposedHeaders([]string{httpx.RequestIDHeader}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			_ = srv.Close()
		}
	}

	// Passes run detached from requests and must stop writing before the
	// pool and blob store close.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout+cfg.Executor.NodeTimeout)
	defer cancel()
	if err := a.runner.Shutdown(drainCtx); err != nil {
		slog.Error("Workflow passes still running at shutdown", "error", err)
	}
	return serveErr
}

// runWorkflow executes a pass outside the server. Ctrl-C cancels it the
// same way POST /cancel does.
func runWorkflow(cmd *cobra.Command, _ []string) error {
	id, err := uuid.Parse(workflowID)
	if err != nil {
		return fmt.Errorf("invalid workflow ID %q: %w", workflowID, err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.runner.Run(ctx, id.String())
	if res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	}
	return err
}

func runImport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Open(pipelineFile)
	if err != nil {
		return err
	}
	defer f.Close()

	def, err := workflow.ParseDefinition(f)
	if err != nil {
		return fmt.Errorf("%s: %w", pipelineFile, err)
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := a.workflow.CreateFromDefinition(cmd.Context(), def)
	if err != nil {
		return err
	}
	slog.Info("workflow imported", "id", wf.ID, "name", wf.Name, "nodes", len(wf.Nodes), "edges", len(wf.Edges))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), wf.ID)
	return err
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbCfg, err := cfg.DB()
	if err != nil {
		return err
	}
	pool, err := db.Connect(cmd.Context(), dbCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(cmd.Context(), pool); err != nil {
		return err
	}
	slog.Info("database schema applied")
	return nil
}
