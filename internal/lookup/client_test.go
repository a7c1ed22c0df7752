package lookup_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/agents"
	"github.com/PaolaCartala/compliance-local-ai/internal/lookup"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("lookup", func() {
	var (
		srv   *httptest.Server
		hits  atomic.Int32
		fails atomic.Bool
	)

	BeforeEach(func() {
		hits.Store(0)
		fails.Store(false)
		mux := http.NewServeMux()
		mux.HandleFunc("/clients/c-1", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			if fails.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"name":"Jane Doe","risk_tolerance":"moderate"}`))
		})
		mux.HandleFunc("/clients/c-1/holdings", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			_, _ = w.Write([]byte(`{"equities":0.6,"bonds":0.4}`))
		})
		mux.HandleFunc("/clients/broken", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		})
		srv = httptest.NewServer(mux)
	})

	AfterEach(func() {
		srv.Close()
	})

	Context("provider", func() {
		It("fetches and caches a client record", func() {
			crm := lookup.NewCRMProvider(srv.URL+"/", time.Second, 16, time.Minute)

			record, err := crm.Fetch(context.TODO(), "c-1")
			Expect(err).To(BeNil())
			Expect(string(record)).To(ContainSubstring("Jane Doe"))

			_, err = crm.Fetch(context.TODO(), "c-1")
			Expect(err).To(BeNil())
			Expect(hits.Load()).To(BeEquivalentTo(1))
		})

		It("refetches once the cache entry expires", func() {
			crm := lookup.NewCRMProvider(srv.URL, time.Second, 16, 10*time.Millisecond)
			_, err := crm.Fetch(context.TODO(), "c-1")
			Expect(err).To(BeNil())

			Eventually(func() int32 {
				_, err := crm.Fetch(context.TODO(), "c-1")
				Expect(err).To(BeNil())
				return hits.Load()
			}, time.Second, 20*time.Millisecond).Should(BeEquivalentTo(2))
		})

		It("returns nothing for an unknown client", func() {
			record, err := lookup.NewCRMProvider(srv.URL, time.Second, 16, time.Minute).Fetch(context.TODO(), "nobody")
			Expect(err).To(BeNil())
			Expect(record).To(BeNil())
		})

		It("reports provider failures as unavailability", func() {
			fails.Store(true)
			_, err := lookup.NewCRMProvider(srv.URL, time.Second, 16, time.Minute).Fetch(context.TODO(), "c-1")
			Expect(errors.Is(err, lookup.ErrProviderUnavailable)).To(BeTrue())

			_, err = lookup.NewCRMProvider(srv.URL, time.Second, 16, time.Minute).Fetch(context.TODO(), "broken")
			Expect(errors.Is(err, lookup.ErrProviderUnavailable)).To(BeTrue())

			_, err = lookup.NewCRMProvider("http://127.0.0.1:1", time.Second, 16, time.Minute).Fetch(context.TODO(), "c-1")
			Expect(errors.Is(err, lookup.ErrProviderUnavailable)).To(BeTrue())
		})
	})

	Context("service", func() {
		var svc *lookup.Service

		BeforeEach(func() {
			svc = lookup.NewService(
				lookup.NewCRMProvider(srv.URL, time.Second, 16, time.Minute),
				lookup.NewPortfolioProvider(srv.URL, time.Second, 16, time.Minute),
			)
		})

		route := func(s model.Specialization) agents.Config {
			cfg, err := agents.Route(s)
			Expect(err).To(BeNil())
			return cfg
		}

		It("only calls the tools the agent may use", func() {
			supplements, err := svc.Supplements(context.TODO(), route(model.SpecializationPortfolio), util.ToPtr("c-1"))
			Expect(err).To(BeNil())
			Expect(supplements).To(HaveLen(1))
			Expect(supplements[0]).To(HavePrefix("portfolio: "))

			supplements, err = svc.Supplements(context.TODO(), route(model.SpecializationCompliance), util.ToPtr("c-1"))
			Expect(err).To(BeNil())
			Expect(supplements).To(HaveLen(2))

			supplements, err = svc.Supplements(context.TODO(), route(model.SpecializationGeneral), util.ToPtr("c-1"))
			Expect(err).To(BeNil())
			Expect(supplements).To(BeEmpty())
		})

		It("skips lookups for jobs without a client", func() {
			supplements, err := svc.Supplements(context.TODO(), route(model.SpecializationCRM), nil)
			Expect(err).To(BeNil())
			Expect(supplements).To(BeEmpty())
			Expect(hits.Load()).To(BeEquivalentTo(0))
		})

		It("fails when an allowed provider is down", func() {
			fails.Store(true)
			_, err := svc.Supplements(context.TODO(), route(model.SpecializationCRM), util.ToPtr("c-1"))
			Expect(errors.Is(err, lookup.ErrProviderUnavailable)).To(BeTrue())
		})
	})
})
