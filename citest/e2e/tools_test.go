package e2e_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sinio-Manoka/AIPex-sub000/citest/testutil"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

var browserTools = []clienttool.ToolDefinition{
	{
		Name:        "get_current_tab",
		Description: "Return the URL and title of the active tab",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        "click",
		Description: "Click an element",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string"}},"required":["selector"]}`),
		Action:      true,
	},
}

// toolParts collects every tool part in history.
func toolParts(info []*types.Message) []*types.ToolPart {
	var out []*types.ToolPart
	for _, m := range info {
		out = append(out, m.ToolParts()...)
	}
	return out
}

func catalogNames() []string {
	tools, err := client.Tools(ctx)
	Expect(err).NotTo(HaveOccurred())
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

var _ = Describe("Tools", func() {
	Describe("browser client tools", func() {
		var browser *testutil.BrowserClient

		BeforeEach(func() {
			browser = testutil.NewBrowserClient(testServer.BaseURL, "browser-"+types.NewID())
			browser.Handle("get_current_tab", func(json.RawMessage) clienttool.Response {
				return testutil.JSONResult(map[string]string{"url": "https://example.com", "title": "Example"})
			})
			browser.Handle("click", func(input json.RawMessage) clienttool.Response {
				var args struct {
					Selector string `json:"selector"`
				}
				if err := json.Unmarshal(input, &args); err != nil || args.Selector == "" {
					return clienttool.Response{Error: "selector required"}
				}
				return testutil.JSONResult(map[string]string{"clicked": args.Selector})
			})
			Expect(browser.Start(ctx, browserTools)).To(Succeed())
			DeferCleanup(browser.Close)
		})

		It("offers registered tools to the model", func() {
			Expect(catalogNames()).To(ContainElements("get_current_tab", "click"))

			sendAndWait(newConversation(), "hello")
			reqs := mockLLM.Requests()
			offered := reqs[len(reqs)-1].Tools
			var names []string
			for _, t := range offered {
				names = append(names, t.Function.Name)
			}
			Expect(names).To(ContainElements("get_current_tab", "click"))
		})

		It("runs a tool on the client and feeds the result back", func() {
			id := newConversation()
			info := sendAndWait(id, "which page am I on?")

			parts := toolParts(info.Messages)
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].ToolName).To(Equal("get_current_tab"))
			Expect(parts[0].State).To(Equal(types.ToolOutputAvailable))
			Expect(string(parts[0].Output)).To(ContainSubstring("https://example.com"))

			Expect(lastAssistant(info).Text()).To(HavePrefix("Done. Tool returned:"))
			Expect(lastAssistant(info).Text()).To(ContainSubstring("example.com"))
			Expect(info.Status).To(Equal(types.StatusIdle))

			reqs := browser.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Tool).To(Equal("get_current_tab"))
		})

		It("passes streamed arguments to action tools", func() {
			id := newConversation()
			info := sendAndWait(id, "click the submit button")

			parts := toolParts(info.Messages)
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].ToolName).To(Equal("click"))
			Expect(string(parts[0].Input)).To(MatchJSON(`{"selector":"#submit"}`))
			Expect(parts[0].State).To(Equal(types.ToolOutputAvailable))
			Expect(string(parts[0].Output)).To(ContainSubstring("#submit"))
		})

		It("reports invalid tool arguments to the model without calling the client", func() {
			id := newConversation()
			info := sendAndWait(id, "broken arguments please")

			parts := toolParts(info.Messages)
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].State).To(Equal(types.ToolOutputError))
			Expect(browser.Requests()).To(BeEmpty())
			Expect(lastAssistant(info).Text()).To(HavePrefix("Done. Tool returned:"))
		})

		It("drops tools when the client disconnects", func() {
			browser.Close()
			Eventually(catalogNames, waitTimeout, 20*time.Millisecond).ShouldNot(ContainElement("get_current_tab"))
		})
	})

	Describe("MCP tools", func() {
		It("reports the connected server", func() {
			status, err := client.MCPStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(HaveLen(1))
			Expect(status[0].Name).To(Equal("pagetools"))
			Expect(status[0].Status).To(Equal(mcp.StatusConnected))
			Expect(status[0].ToolCount).To(Equal(2))
		})

		It("exposes prefixed tool names", func() {
			Expect(catalogNames()).To(ContainElements("pagetools_word_count", "pagetools_extract_links"))
		})

		It("calls an MCP tool during a conversation", func() {
			id := newConversation()
			info := sendAndWait(id, "count words for me")

			parts := toolParts(info.Messages)
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].ToolName).To(Equal("pagetools_word_count"))
			Expect(parts[0].State).To(Equal(types.ToolOutputAvailable))

			var counts struct {
				Words int `json:"words"`
			}
			Expect(json.Unmarshal(parts[0].Output, &counts)).To(Succeed())
			Expect(counts.Words).To(Equal(3))
		})
	})
})
