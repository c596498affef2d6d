package e2e_test

import (
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sinio-Manoka/AIPex-sub000/citest/testutil"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/server"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

func apiStatus(err error) int {
	var apiErr *testutil.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

var _ = Describe("Conversations", func() {
	Describe("lifecycle", func() {
		It("creates an idle conversation with no history", func() {
			info, err := client.CreateConversation(ctx)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = client.DeleteConversation(ctx, info.ID) })

			Expect(info.ID).NotTo(BeEmpty())
			Expect(info.Status).To(Equal(types.StatusIdle))
			Expect(info.Processing).To(BeFalse())
			Expect(info.Messages).To(BeEmpty())
		})

		It("lists and deletes conversations", func() {
			id := newConversation()
			sendAndWait(id, "hello, world")

			list, err := client.ListConversations(ctx)
			Expect(err).NotTo(HaveOccurred())
			var ids []string
			for _, s := range list {
				ids = append(ids, s.ID)
			}
			Expect(ids).To(ContainElement(id))

			Expect(client.DeleteConversation(ctx, id)).To(Succeed())
			_, err = client.GetConversation(ctx, id)
			Expect(apiStatus(err)).To(Equal(http.StatusNotFound))
		})

		It("returns 404 for unknown conversations", func() {
			_, err := client.GetConversation(ctx, "does-not-exist")
			Expect(apiStatus(err)).To(Equal(http.StatusNotFound))
			_, err = client.SendText(ctx, "does-not-exist", "hi")
			Expect(apiStatus(err)).To(Equal(http.StatusNotFound))
		})
	})

	Describe("messaging", func() {
		It("streams a model answer into history", func() {
			id := newConversation()
			info := sendAndWait(id, "hello, world")

			Expect(roles(info.Messages)).To(Equal([]types.Role{types.RoleUser, types.RoleAssistant}))
			Expect(info.Messages[0].Text()).To(Equal("hello, world"))
			Expect(info.Messages[1].Text()).To(Equal("Hello, World!"))
			Expect(info.Status).To(Equal(types.StatusIdle))
		})

		It("sends earlier turns back to the model", func() {
			id := newConversation()
			sendAndWait(id, "hello, world")
			mockLLM.Reset()
			sendAndWait(id, "2+2")

			reqs := mockLLM.Requests()
			Expect(reqs).To(HaveLen(1))
			var contents []any
			for _, m := range reqs[0].Messages {
				contents = append(contents, m.Content)
			}
			Expect(contents).To(ContainElements("hello, world", "Hello, World!", "2+2"))

			info, err := client.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(lastAssistant(info).Text()).To(Equal("4"))
		})

		It("rejects empty messages", func() {
			id := newConversation()
			_, err := client.SendText(ctx, id, "   ")
			Expect(apiStatus(err)).To(Equal(http.StatusBadRequest))
		})

		It("keeps context parts on the user message", func() {
			id := newConversation()
			_, err := client.SendMessage(ctx, id, server.SendMessageRequest{
				Text: "summarize this page",
				Contexts: []*types.ContextPart{
					types.NewContextPart("page", "Example", "Example page body", nil),
				},
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.WaitIdle(ctx, id, waitTimeout)
			Expect(err).NotTo(HaveOccurred())

			info, err := client.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Messages[0].ContextParts()).To(HaveLen(1))
			Expect(lastAssistant(info).Text()).To(Equal("The page is about testing."))
		})

		It("regenerates the last answer", func() {
			id := newConversation()
			sendAndWait(id, "hello, world")

			Expect(client.Regenerate(ctx, id)).To(Succeed())
			_, err := client.WaitIdle(ctx, id, waitTimeout)
			Expect(err).NotTo(HaveOccurred())

			info, err := client.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(roles(info.Messages)).To(Equal([]types.Role{types.RoleUser, types.RoleAssistant}))
			Expect(info.Messages[1].Text()).To(Equal("Hello, World!"))
		})

		It("refuses to regenerate an empty conversation", func() {
			id := newConversation()
			err := client.Regenerate(ctx, id)
			Expect(apiStatus(err)).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("queueing and interruption", func() {
		It("queues messages sent while a cycle runs", func() {
			id := newConversation()
			first, err := client.SendText(ctx, id, "take your time")
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Queued).To(BeFalse())

			second, err := client.SendText(ctx, id, "2+2")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Queued).To(BeTrue())

			st, err := client.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Queued).To(Equal(1))

			_, err = client.WaitIdle(ctx, id, 2*waitTimeout)
			Expect(err).NotTo(HaveOccurred())
			info, err := client.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(roles(info.Messages)).To(Equal([]types.Role{
				types.RoleUser, types.RoleAssistant, types.RoleUser, types.RoleAssistant,
			}))
			Expect(info.Messages[3].Text()).To(Equal("4"))
			Expect(info.Queue).To(BeEmpty())
		})

		It("aborts a running cycle and drops the queue", func() {
			id := newConversation()
			_, err := client.SendText(ctx, id, "take your time")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendText(ctx, id, "hello")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() string {
				info, err := client.GetConversation(ctx, id)
				if err != nil || lastAssistant(info) == nil {
					return ""
				}
				return lastAssistant(info).Text()
			}, waitTimeout, 20*time.Millisecond).ShouldNot(BeEmpty())

			Expect(client.Abort(ctx, id)).To(Succeed())

			st, err := client.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Processing).To(BeFalse())
			Expect(st.Status).To(Equal(types.StatusIdle))
			Expect(st.Queued).To(BeZero())

			info, err := client.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(lastAssistant(info).Text()).NotTo(ContainSubstring("finishes streaming."))
		})

		It("stops a stream but keeps queued messages for the next send", func() {
			id := newConversation()
			_, err := client.SendText(ctx, id, "take your time")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendText(ctx, id, "hello, world")
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Stop(ctx, id, false)).To(Succeed())
			st, err := client.GetStatus(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Processing).To(BeFalse())
			Expect(st.Queued).To(Equal(1))

			info := sendAndWait(id, "2+2")
			Expect(info.Queue).To(BeEmpty())
			var texts []string
			for _, m := range info.Messages {
				if m.Role == types.RoleUser {
					texts = append(texts, m.Text())
				}
			}
			Expect(texts).To(Equal([]string{"take your time", "hello, world", "2+2"}))
		})
	})

	Describe("model errors", func() {
		It("records a visible error and leaves the status at error", func() {
			id := newConversation()
			info := sendAndWait(id, "trigger auth error")

			Expect(info.Status).To(Equal(types.StatusError))
			last := info.Messages[len(info.Messages)-1]
			Expect(last.Synthetic).To(Equal(types.SyntheticError))
			Expect(last.Text()).To(ContainSubstring("invalid api key"))
		})

		It("recovers on the next message", func() {
			id := newConversation()
			sendAndWait(id, "trigger auth error")
			info := sendAndWait(id, "hello, world")

			Expect(info.Status).To(Equal(types.StatusIdle))
			Expect(lastAssistant(info).Text()).To(Equal("Hello, World!"))
		})
	})
})
