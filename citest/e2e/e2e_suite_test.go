package e2e_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sinio-Manoka/AIPex-sub000/citest/testutil"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/server"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

const waitTimeout = 10 * time.Second

var (
	mockLLM    *testutil.MockLLMServer
	mcpServer  *httptest.Server
	mcpClient  *mcp.Client
	testServer *testutil.TestServer
	client     *testutil.Client
	ctx        context.Context
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "E2E Suite")
}

var _ = BeforeSuite(func() {
	ctx = context.Background()

	cfg, err := testutil.LoadMockLLMConfig(filepath.Join("..", "config", "mockllm.yaml"))
	Expect(err).NotTo(HaveOccurred())
	mockLLM = testutil.NewMockLLMServer(cfg)

	mcpServer = testutil.StartPagetoolsMCP()
	mcpClient, err = testutil.ConnectMCP(ctx, "pagetools", mcpServer.URL+"/mcp")
	Expect(err).NotTo(HaveOccurred(), "connect pagetools MCP server")

	testServer, err = testutil.StartTestServer(mockLLM.Endpoint(),
		testutil.WithPersistence(),
		testutil.WithMCP(mcpClient),
	)
	Expect(err).NotTo(HaveOccurred(), "start test server")
	client = testutil.NewClient(testServer.BaseURL)
	Expect(client.Health(ctx)).To(Succeed())
})

var _ = AfterSuite(func() {
	if testServer != nil {
		testServer.Stop()
	}
	if mcpClient != nil {
		mcpClient.Close()
	}
	if mcpServer != nil {
		mcpServer.Close()
	}
	if mockLLM != nil {
		mockLLM.Close()
	}
})

// newConversation creates a conversation and deletes it when the test ends.
func newConversation() string {
	info, err := client.CreateConversation(ctx)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		_ = client.DeleteConversation(ctx, info.ID)
	})
	return info.ID
}

// sendAndWait sends text and waits for the cycle to settle.
func sendAndWait(id, text string) *server.ConversationInfo {
	_, err := client.SendText(ctx, id, text)
	Expect(err).NotTo(HaveOccurred())
	_, err = client.WaitIdle(ctx, id, waitTimeout)
	Expect(err).NotTo(HaveOccurred())
	info, err := client.GetConversation(ctx, id)
	Expect(err).NotTo(HaveOccurred())
	return info
}

func lastAssistant(info *server.ConversationInfo) *types.Message {
	for i := len(info.Messages) - 1; i >= 0; i-- {
		if info.Messages[i].Role == types.RoleAssistant {
			return info.Messages[i]
		}
	}
	return nil
}

func roles(msgs []*types.Message) []types.Role {
	out := make([]types.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}
