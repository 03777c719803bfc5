package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bioforge/alnpipe/internal/observability"
	"github.com/bioforge/alnpipe/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only pipeline status over HTTP",
	Long: `Start an HTTP server exposing pipeline state: health, version,
the run ledger, and per-target staleness. The server is read-only;
runs still happen through 'alnpipe run'.

Endpoints:
  GET /healthz       aggregate health
  GET /version       build metadata
  GET /api/ledger    recorded run outcomes
  GET /api/targets   per-target staleness and last run

Example:
  alnpipe serve -c pipeline.toml
  alnpipe serve -c pipeline.toml --port 9090`,
	RunE: runServe,
}

var (
	serveManifestPath string
	serveHost         string
	servePort         int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveManifestPath, "pipeline", "c", "", "Path to pipeline manifest (required)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to bind (default from config)")

	_ = serveCmd.MarkFlagRequired("pipeline")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Fail fast on a broken manifest before binding the port.
	if _, _, err := loadPipeline(serveManifestPath); err != nil {
		return err
	}

	host := viper.GetString("server.host")
	if serveHost != "" {
		host = serveHost
	}
	port := viper.GetInt("server.port")
	if servePort != 0 {
		port = servePort
	}

	srv := server.New(server.Config{
		Host:         host,
		Port:         port,
		ManifestPath: serveManifestPath,
		Version:      versionInfo.Version,
		Commit:       versionInfo.Commit,
		BuildDate:    versionInfo.BuildDate,
		ReadTimeout:  viper.GetDuration("server.read_timeout"),
		WriteTimeout: viper.GetDuration("server.write_timeout"),
		IdleTimeout:  viper.GetDuration("server.idle_timeout"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	observability.CLILogger.Info("Status server listening",
		zap.String("addr", srv.Addr()),
		zap.String("manifest", serveManifestPath))

	select {
	case err := <-errCh:
		observability.CLILogger.Error("Status server failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Status server failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.shutdown_timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observability.CLILogger.Warn("Shutdown incomplete", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Shutdown incomplete", err)
	}

	observability.CLILogger.Info("Status server stopped")
	return nil
}
