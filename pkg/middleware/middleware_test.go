package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/PaolaCartala/compliance-local-ai/pkg/middleware"
	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("middleware", func() {
	var (
		router *chi.Mux
		seen   string
		logs   *observer.ObservedLogs
	)

	BeforeEach(func() {
		core, observed := observer.New(zapcore.InfoLevel)
		logs = observed
		DeferCleanup(zap.ReplaceGlobals(zap.New(core)))

		seen = ""
		router = chi.NewRouter()
		router.Use(middleware.RequestID, middleware.Logger())
		router.Get("/api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			seen = middleware.RequestIDFromRequest(r)
			w.WriteHeader(http.StatusNotFound)
		})
	})

	It("keeps the caller's request id", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/42", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(seen).To(Equal("req-1"))
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal("req-1"))
	})

	It("generates a request id when none is sent", func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/42", nil))

		Expect(seen).ToNot(BeEmpty())
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal(seen))
	})

	It("logs the served request with its route and job", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/42", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
		router.ServeHTTP(httptest.NewRecorder(), req)

		entries := logs.FilterMessage("request served").All()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Level).To(Equal(zapcore.WarnLevel))

		fields := entries[0].ContextMap()
		Expect(fields).To(HaveKeyWithValue("status", int64(http.StatusNotFound)))
		Expect(fields).To(HaveKeyWithValue("route", "/api/v1/jobs/{id}"))
		Expect(fields).To(HaveKeyWithValue("job_id", "42"))
		Expect(fields).To(HaveKeyWithValue("ip", "10.0.0.7"))
		Expect(fields).To(HaveKeyWithValue("request_id", seen))
	})
})
