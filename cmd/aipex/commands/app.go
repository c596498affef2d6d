package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/config"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/session"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/storage"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// appOptions adjust how the engine is assembled for one command.
type appOptions struct {
	model  string
	noSave bool
}

// app is the assembled engine shared by the commands.
type app struct {
	dir     string
	config  *types.Config
	files   []string
	router  *toolcall.Router
	clients *clienttool.Registry
	mcp     *mcp.Client
	service *session.Service
}

// newApp loads configuration for the working directory and wires storage,
// tool backends and the conversation service.
func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	dir, err := GetWorkDir()
	if err != nil {
		return nil, err
	}

	loaded, err := config.LoadWithSources(dir)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
		logging.Setup(cfg.LogLevel, printLogs || cmd.Name() == serveCmd.Name())
	}
	log := logging.Component("app")
	log.Debug().Str("dir", dir).Strs("files", loaded.Files).Msg("configuration loaded")

	var store *storage.ConversationStore
	if !opts.noSave {
		if err := config.GetPaths().EnsurePaths(); err != nil {
			return nil, fmt.Errorf("create data directories: %w", err)
		}
		store = storage.NewConversationStore(storage.New(config.StorageDir(cfg.StorageDir)))
	}

	router := toolcall.NewRouter()
	service := session.NewService(session.ServiceOptions{
		Config: *cfg,
		Tools:  router,
		Store:  store,
	})

	clients := clienttool.NewRegistry(service.Bus(), clienttool.DefaultTimeout)
	router.Register(clients)

	a := &app{
		dir:     dir,
		config:  cfg,
		files:   loaded.Files,
		router:  router,
		clients: clients,
		service: service,
	}

	if len(cfg.MCP) > 0 {
		a.mcp = mcp.NewClient()
		if err := a.mcp.Connect(cmd.Context(), cfg.MCP); err != nil {
			log.Warn().Err(err).Msg("some MCP servers failed to connect")
		}
		router.Register(a.mcp)
		log.Info().Int("connected", a.mcp.ConnectedCount()).Int("configured", len(cfg.MCP)).Msg("MCP servers ready")
	}
	return a, nil
}

// Close tears down conversations and MCP sessions.
func (a *app) Close() {
	if err := a.service.Close(); err != nil {
		logging.Warn().Err(err).Msg("service close failed")
	}
	if a.mcp != nil {
		a.mcp.Close()
	}
}
