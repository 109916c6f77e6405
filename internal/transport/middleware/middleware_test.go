package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
})

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
	return body.Error.Code
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

var _ = ginkgo.Describe("Logging", func() {
	ginkgo.It("should mask sensitive fields in bodies and query strings", func() {
		// Given
		var buf bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&buf, nil))
		handler := LoggingMiddleware(lg)(okHandler)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login?token=abc123",
			strings.NewReader(`{"email":"a@example.com","password":"hunter2"}`))

		// When
		handler.ServeHTTP(httptest.NewRecorder(), req)

		// Then
		gomega.Expect(buf.String()).NotTo(gomega.ContainSubstring("hunter2"))
		gomega.Expect(buf.String()).NotTo(gomega.ContainSubstring("abc123"))
		gomega.Expect(buf.String()).To(gomega.ContainSubstring("a@example.com"))
	})

	ginkgo.It("should keep the request body readable downstream", func() {
		// Given
		var seen string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := new(bytes.Buffer)
			_, _ = b.ReadFrom(r.Body)
			seen = b.String()
		})
		handler := LoggingMiddleware(discardLogger())(next)

		// When
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))

		// Then
		gomega.Expect(seen).To(gomega.Equal(`{"a":1}`))
	})

	ginkgo.It("should expose the underlying hijacker for websocket upgrades", func() {
		// Given
		rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hj, ok := w.(http.Hijacker)
			gomega.Expect(ok).To(gomega.BeTrue())
			_, _, err := hj.Hijack()
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
		})

		// When
		LoggingMiddleware(discardLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/payments", nil))

		// Then
		gomega.Expect(rec.hijacked).To(gomega.BeTrue())
	})
})

var _ = ginkgo.Describe("Recovery", func() {
	ginkgo.It("should answer 500 with the error envelope", func() {
		// Given
		boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })
		rec := httptest.NewRecorder()

		// When
		RecoveryMiddleware(discardLogger())(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		// Then
		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusInternalServerError))
		gomega.Expect(errorCode(rec)).To(gomega.Equal("INTERNAL_ERROR"))
		gomega.Expect(rec.Body.String()).NotTo(gomega.ContainSubstring("boom"))
	})
})

var _ = ginkgo.Describe("RequestID", func() {
	ginkgo.It("should keep an upstream id", func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-1")

		RequestID(okHandler).ServeHTTP(rec, req)

		gomega.Expect(rec.Header().Get(RequestIDHeader)).To(gomega.Equal("req-1"))
	})

	ginkgo.It("should mint an id when none is sent", func() {
		rec := httptest.NewRecorder()

		RequestID(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		gomega.Expect(rec.Header().Get(RequestIDHeader)).To(gomega.HaveLen(36))
	})
})

var _ = ginkgo.Describe("CORS", func() {
	handler := CORS([]string{"https://dashboard.adride.co.ke"})(okHandler)

	ginkgo.It("should answer preflight requests for allowed origins", func() {
		// Given
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://dashboard.adride.co.ke")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()

		// When
		handler.ServeHTTP(rec, req)

		// Then
		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(gomega.Equal("https://dashboard.adride.co.ke"))
		gomega.Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(gomega.Equal(http.MethodPost))
		gomega.Expect(rec.Body.String()).To(gomega.BeEmpty())
	})

	ginkgo.It("should expose the request id and retry headers on actual requests", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://dashboard.adride.co.ke")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(gomega.Equal("https://dashboard.adride.co.ke"))
		gomega.Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(gomega.Equal("true"))
		gomega.Expect(rec.Header().Get("Access-Control-Expose-Headers")).To(gomega.ContainSubstring(RequestIDHeader))
	})

	ginkgo.It("should allow any origin with a wildcard", func() {
		wildcard := CORS([]string{" * "})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://partner.example.com")
		rec := httptest.NewRecorder()

		wildcard.ServeHTTP(rec, req)

		gomega.Expect(rec.Header().Get("Access-Control-Allow-Origin")).ToNot(gomega.BeEmpty())
	})

	ginkgo.It("should not grant unknown origins", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(gomega.BeEmpty())
	})
})

var _ = ginkgo.Describe("RateLimiter", func() {
	var (
		rl  *RateLimiter
		now time.Time
	)

	ginkgo.BeforeEach(func() {
		now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		rl = NewRateLimiter(60, 2, time.Minute, discardLogger())
		rl.now = func() time.Time { return now }
	})

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stk-push", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		rl.Middleware(okHandler).ServeHTTP(rec, req)
		return rec
	}

	ginkgo.It("should reject a client once its burst is spent", func() {
		// Given
		gomega.Expect(send("10.0.0.1:5000").Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(send("10.0.0.1:5001").Code).To(gomega.Equal(http.StatusOK))

		// When
		rec := send("10.0.0.1:5002")

		// Then
		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusTooManyRequests))
		gomega.Expect(errorCode(rec)).To(gomega.Equal("RATE_LIMITED"))
		gomega.Expect(rec.Header().Get("Retry-After")).To(gomega.Equal("1"))
	})

	ginkgo.It("should track clients separately", func() {
		send("10.0.0.1:5000")
		send("10.0.0.1:5000")

		gomega.Expect(send("10.0.0.2:5000").Code).To(gomega.Equal(http.StatusOK))
	})

	ginkgo.It("should refill over time", func() {
		send("10.0.0.1:5000")
		send("10.0.0.1:5000")

		now = now.Add(time.Second)

		gomega.Expect(send("10.0.0.1:5000").Code).To(gomega.Equal(http.StatusOK))
	})

	ginkgo.It("should drop idle buckets", func() {
		send("10.0.0.1:5000")
		send("10.0.0.2:5000")
		gomega.Expect(rl.Visitors()).To(gomega.Equal(2))

		now = now.Add(2 * time.Minute)
		send("10.0.0.3:5000")

		gomega.Expect(rl.Visitors()).To(gomega.Equal(1))
	})
})

const testDocument = `
openapi: 3.0.3
info:
  title: test
  version: "1"
paths:
  /payments/stk-push:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [campaign_id, phone_number, amount]
              properties:
                campaign_id:
                  type: integer
                  minimum: 1
                phone_number:
                  type: string
                amount:
                  type: number
      responses:
        "201":
          description: created
  /payments/{id}:
    get:
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      responses:
        "200":
          description: ok
`

var _ = ginkgo.Describe("RequestValidator", func() {
	var handler http.Handler

	ginkgo.BeforeEach(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData([]byte(testDocument))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(doc.Validate(context.Background())).To(gomega.Succeed())

		v, err := NewRequestValidator(doc, "/api/v1", discardLogger())
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		handler = v.Middleware(okHandler)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	ginkgo.It("should let a conforming body through", func() {
		rec := post("/api/v1/payments/stk-push", `{"campaign_id":1,"phone_number":"0712345678","amount":500}`)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
	})

	ginkgo.It("should reject a body missing required fields", func() {
		rec := post("/api/v1/payments/stk-push", `{"campaign_id":1}`)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		gomega.Expect(errorCode(rec)).To(gomega.Equal("VALIDATION_FAILED"))
	})

	ginkgo.It("should reject a non-numeric path parameter", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/abc", nil))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
	})

	ginkgo.It("should pass through routes the document does not describe", func() {
		rec := post("/api/v1/payments/mpesa/callback", `not json`)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
	})

	ginkgo.It("should leave the body readable for the handler", func() {
		// Given
		var seen string
		doc, err := openapi3.NewLoader().LoadFromData([]byte(testDocument))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		rv, err := NewRequestValidator(doc, "/api/v1", discardLogger())
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		handler = rv.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := new(bytes.Buffer)
			_, _ = b.ReadFrom(r.Body)
			seen = b.String()
		}))

		// When
		post("/api/v1/payments/stk-push", `{"campaign_id":2,"phone_number":"0712345678","amount":1}`)

		// Then
		gomega.Expect(seen).To(gomega.ContainSubstring(`"campaign_id":2`))
	})
})
