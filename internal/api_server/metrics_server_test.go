package apiserver_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apiserver "github.com/PaolaCartala/compliance-local-ai/internal/api_server"
	"github.com/PaolaCartala/compliance-local-ai/pkg/metrics"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("metrics server", func() {
	var (
		baseURL string
		cancel  context.CancelFunc
		stopped chan error
	)

	BeforeEach(func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(BeNil())
		baseURL = fmt.Sprintf("http://%s", listener.Addr())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.TODO())
		stopped = make(chan error, 1)
		srv := apiserver.NewMetricServer(listener.Addr().String(), listener, apiserver.WithSubmittersWindow(50*time.Millisecond))
		go func() {
			stopped <- srv.Run(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(stopped, 2*time.Second).Should(Receive(BeNil()))
		metrics.UniqueSubmittersPerWeek.Reset()
	})

	It("exposes the queue metrics and a liveness probe", func() {
		metrics.UniqueSubmittersPerWeek.Add("alice")

		resp, err := http.Get(baseURL + "/metrics")
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		body, err := io.ReadAll(resp.Body)
		Expect(err).To(BeNil())
		Expect(string(body)).To(ContainSubstring("submitters_count_per_week"))

		health, err := http.Get(baseURL + "/healthz")
		Expect(err).To(BeNil())
		health.Body.Close()
		Expect(health.StatusCode).To(Equal(http.StatusOK))
	})

	It("closes the distinct submitters window", func() {
		metrics.UniqueSubmittersPerWeek.Add("alice")
		metrics.UniqueSubmittersPerWeek.Add("bob")

		Eventually(metrics.UniqueSubmittersPerWeek.Count, time.Second, 10*time.Millisecond).Should(BeZero())
	})
})
