package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/config"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/server"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AIPex HTTP server",
	Long: `Start AIPex as a server that hosts conversations over HTTP.

Browser clients register their tools on /client-tools and receive tool
requests over server-sent events; conversation updates stream on /event.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config, then "+types.DefaultServerAddr+")")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload configuration when its files change")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("dir", a.dir).Str("model", a.config.Model).Msg("starting AIPex server")

	if serveWatch && len(a.files) > 0 {
		watcher, err := config.NewWatcher(a.dir, a.files, func(cfg *types.Config) {
			a.service.UpdateConfig(*cfg)
			log.Info().Msg("configuration reloaded")
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher disabled")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	cfg := server.DefaultConfig()
	cfg.Addr = a.service.Config().Server.Addr
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if origins := a.config.Server.CORSOrigins; len(origins) > 0 {
		cfg.CORSOrigins = origins
	}

	srv := server.New(server.Options{
		Config:  cfg,
		Service: a.service,
		Router:  a.router,
		Clients: a.clients,
		MCP:     a.mcp,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}
