package server_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sessionagent/runtime/citest/testutil"
)

var _ = Describe("Session creation", func() {
	It("streams an agentId then a websocketUrl for an app session", func() {
		client := testServer.Client()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		events, err := client.CreateSession(ctx, testutil.CreateSessionRequest{
			Query:       "build a todo list app",
			ProjectType: "app",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).NotTo(BeEmpty())

		Expect(events[0].AgentID).NotTo(BeEmpty())

		last := events[len(events)-1]
		Expect(last.Message).NotTo(ContainSubstring("error"))
		Expect(last.WebsocketURL).To(HavePrefix("/session/"))
		Expect(last.WebsocketURL).To(HaveSuffix("/channel"))
	})

	It("streams an agentId then a websocketUrl for a workflow session", func() {
		client := testServer.Client()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		events, err := client.CreateSession(ctx, testutil.CreateSessionRequest{
			Query:       "write a data pipeline agent",
			ProjectType: "workflow",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).NotTo(BeEmpty())

		last := events[len(events)-1]
		Expect(last.WebsocketURL).To(HavePrefix("/session/"))
	})

	It("rejects an unknown project type", func() {
		client := testServer.Client()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := client.Post(ctx, "/session/", testutil.CreateSessionRequest{
			Query:       "anything",
			ProjectType: "bogus",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))
	})
})

var _ = Describe("Health", func() {
	It("reports healthy on /healthz", func() {
		client := testServer.Client()
		resp, err := client.Get(context.Background(), "/healthz")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())
	})
})
