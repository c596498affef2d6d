package e2e_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Sinio-Manoka/AIPex-sub000/citest/testutil"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

func statusOf(ev testutil.SSEEvent) types.Status {
	var data event.StatusChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return ""
	}
	return data.Status
}

var _ = Describe("Event stream", func() {
	var stream *testutil.SSEClient

	BeforeEach(func() {
		stream = testutil.NewSSEClient(testServer.BaseURL)
	})

	AfterEach(func() {
		stream.Close()
	})

	It("announces the connection", func() {
		Expect(stream.Connect(ctx, "/event")).To(Succeed())
		_, err := stream.WaitForType("server.connected", waitTimeout)
		Expect(err).NotTo(HaveOccurred())
	})

	It("streams status and history changes for one conversation", func() {
		id := newConversation()
		other := newConversation()
		Expect(stream.Connect(ctx, "/event?conversation="+id)).To(Succeed())
		_, err := stream.WaitForType("server.connected", waitTimeout)
		Expect(err).NotTo(HaveOccurred())

		sendAndWait(other, "hello")
		sendAndWait(id, "hello, world")

		_, err = stream.WaitFor(waitTimeout, func(ev testutil.SSEEvent) bool {
			return ev.Type == string(event.StatusChanged) && statusOf(ev) == types.StatusIdle
		})
		Expect(err).NotTo(HaveOccurred())

		var statuses []types.Status
		sawFinal := false
		for _, ev := range stream.Events() {
			if ev.Type == "server.connected" {
				continue
			}
			Expect(ev.ConversationID).To(Equal(id))
			switch event.EventType(ev.Type) {
			case event.StatusChanged:
				statuses = append(statuses, statusOf(ev))
			case event.MessagesUpdated:
				var data event.MessagesUpdatedData
				Expect(json.Unmarshal(ev.Data, &data)).To(Succeed())
				if n := len(data.Messages); n == 2 && data.Messages[1].Text() == "Hello, World!" {
					sawFinal = true
				}
			}
		}
		Expect(statuses).To(ContainElements(types.StatusSubmitted, types.StatusStreaming, types.StatusIdle))
		Expect(statuses[len(statuses)-1]).To(Equal(types.StatusIdle))
		Expect(sawFinal).To(BeTrue())
	})

	It("reports client tool registration", func() {
		Expect(stream.Connect(ctx, "/event")).To(Succeed())
		_, err := stream.WaitForType("server.connected", waitTimeout)
		Expect(err).NotTo(HaveOccurred())

		browser := testutil.NewBrowserClient(testServer.BaseURL, "events-"+types.NewID())
		Expect(browser.Start(ctx, browserTools)).To(Succeed())
		browser.Close()

		_, err = stream.WaitForType(string(event.ClientToolRegistered), waitTimeout)
		Expect(err).NotTo(HaveOccurred())
		_, err = stream.WaitForType(string(event.ClientToolUnregistered), waitTimeout)
		Expect(err).NotTo(HaveOccurred())
	})
})
