package testutil

import (
	"fmt"
	"net/http/httptest"
	"os"

	"github.com/rs/zerolog"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/server"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/session"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/storage"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// TestServer is an in-process engine behind a real HTTP listener.
type TestServer struct {
	BaseURL string
	Config  types.Config
	Service *session.Service
	Clients *clienttool.Registry
	MCP     *mcp.Client
	TempDir string

	http *httptest.Server
}

// TestServerOption configures a TestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	persist bool
	mutate  func(*types.Config)
	mcp     *mcp.Client
}

// WithPersistence stores conversations under the server's temp dir.
func WithPersistence() TestServerOption {
	return func(c *testServerConfig) { c.persist = true }
}

// WithConfig adjusts the engine configuration before start.
func WithConfig(fn func(*types.Config)) TestServerOption {
	return func(c *testServerConfig) { c.mutate = fn }
}

// WithMCP registers an already connected MCP client as a tool backend.
func WithMCP(client *mcp.Client) TestServerOption {
	return func(c *testServerConfig) { c.mcp = client }
}

// StartTestServer starts an engine whose model endpoint is endpoint.
func StartTestServer(endpoint string, opts ...TestServerOption) (*TestServer, error) {
	o := &testServerConfig{}
	for _, opt := range opts {
		opt(o)
	}

	tempDir, err := os.MkdirTemp("", "aipex-citest-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	cfg := types.Config{
		Model:    "mock-model",
		Endpoint: endpoint,
		APIKey:   "sk-test",
		Emit:     types.EmitConfig{IntervalMs: types.IntPtr(0)},
		Retry:    types.RetryConfig{MaxRetries: types.IntPtr(0)},
	}
	if o.mutate != nil {
		o.mutate(&cfg)
	}

	var store *storage.ConversationStore
	if o.persist {
		store = storage.NewConversationStore(storage.New(tempDir))
	}

	logger := zerolog.Nop()
	router := toolcall.NewRouter()
	service := session.NewService(session.ServiceOptions{
		Config: cfg,
		Tools:  router,
		Store:  store,
		Logger: &logger,
	})
	clients := clienttool.NewRegistry(service.Bus(), clienttool.DefaultTimeout)
	router.Register(clients)
	if o.mcp != nil {
		router.Register(o.mcp)
	}

	srv := server.New(server.Options{
		Config:  server.DefaultConfig(),
		Service: service,
		Router:  router,
		Clients: clients,
		MCP:     o.mcp,
		Logger:  &logger,
	})
	hs := httptest.NewServer(srv.Router())

	return &TestServer{
		BaseURL: hs.URL,
		Config:  service.Config(),
		Service: service,
		Clients: clients,
		MCP:     o.mcp,
		TempDir: tempDir,
		http:    hs,
	}, nil
}

// Stop shuts the server down and removes its temp dir.
func (s *TestServer) Stop() {
	s.http.CloseClientConnections()
	s.http.Close()
	s.Service.Close()
	os.RemoveAll(s.TempDir)
}
