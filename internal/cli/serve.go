package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/voicebatch/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept batches over HTTP",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Server.APIPort == 0 {
		slog.Error("server.api_port is required for serve")
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	app := newApp(ctx, cfg)
	defer stopApp(app)

	srv := api.NewServer(app, cfg.Server.APIPort)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("API server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("voicebatch serving", "config", cfgPath, "api_port", cfg.Server.APIPort, "status_port", cfg.Server.Port)
	<-ctx.Done()

	shutdownCtx, shutdownCancel := shutdownContext()
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("Error stopping API server", "error", err)
	}
}
