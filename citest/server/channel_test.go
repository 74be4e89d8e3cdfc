package server_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sessionagent/runtime/citest/testutil"
)

var _ = Describe("Session channel", func() {
	var sessionID string

	BeforeEach(func() {
		client := testServer.Client()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		events, err := client.CreateSession(ctx, testutil.CreateSessionRequest{
			Query:       "build a landing page",
			ProjectType: "app",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).NotTo(BeEmpty())
		sessionID = events[0].AgentID
		Expect(sessionID).NotTo(BeEmpty())
	})

	It("replies with conversation_state to get_conversation_state", func() {
		ws, err := testServer.Channel(context.Background(), sessionID)
		Expect(err).NotTo(HaveOccurred())
		defer ws.Close()

		Expect(ws.SendType("get_conversation_state")).To(Succeed())

		_, err = ws.WaitForEvent("conversation_state", 10*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	It("broadcasts conversation_cleared on clear_conversation", func() {
		ws, err := testServer.Channel(context.Background(), sessionID)
		Expect(err).NotTo(HaveOccurred())
		defer ws.Close()

		Expect(ws.SendType("clear_conversation")).To(Succeed())

		_, err = ws.WaitForEvent("conversation_cleared", 10*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rehydrates a session after the in-process cache entry is dropped", func() {
		ws, err := testServer.Channel(context.Background(), sessionID)
		Expect(err).NotTo(HaveOccurred())
		ws.Close()

		// A fresh dial against the same sessionID exercises
		// getOrRehydrate's RehydrateAuto fallback rather than the cache hit.
		ws2, err := testServer.Channel(context.Background(), sessionID)
		Expect(err).NotTo(HaveOccurred())
		defer ws2.Close()

		Expect(ws2.SendType("get_conversation_state")).To(Succeed())
		_, err = ws2.WaitForEvent("conversation_state", 10*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})
})
