package realtime

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	apperrors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/auth"
	"github.com/gorilla/websocket"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

type fakeTokens map[string]int64

func (f fakeTokens) ValidateAccessToken(token string) (*auth.Claims, error) {
	id, ok := f[token]
	if !ok {
		return nil, apperrors.ErrInvalidToken
	}
	return &auth.Claims{UserID: id}, nil
}

var _ = ginkgo.Describe("Websocket handler", func() {
	var (
		hub    *Hub
		server *httptest.Server
		wsURL  string
	)

	ginkgo.BeforeEach(func() {
		hub = NewHub()
		handler := NewHandler(hub, fakeTokens{"advertiser-7": 7}, "payment", []string{"*"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		server = httptest.NewServer(http.HandlerFunc(handler.ServeWS))
		wsURL = "ws" + strings.TrimPrefix(server.URL, "http")
	})

	ginkgo.AfterEach(func() {
		server.Close()
	})

	ginkgo.It("should reject connections without a valid token", func() {
		// When
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=forged", nil)

		// Then
		gomega.Expect(err).To(gomega.HaveOccurred())
		gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusUnauthorized))
	})

	ginkgo.It("should stream updates published on the caller's own channel", func() {
		// Given
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=advertiser-7", nil)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		defer conn.Close()
		gomega.Eventually(func() int { return hub.ClientCount("payment.7") }).WithTimeout(time.Second).Should(gomega.Equal(1))

		// When
		hub.Deliver("payment.8", []byte(`{"for":"someone else"}`))
		hub.Deliver("payment.7", []byte(`{"event":"payment.status.updated"}`))

		// Then
		gomega.Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(gomega.Succeed())
		_, msg, err := conn.ReadMessage()
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(string(msg)).To(gomega.Equal(`{"event":"payment.status.updated"}`))
	})

	ginkgo.It("should unregister the client when the socket closes", func() {
		// Given
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=advertiser-7", nil)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Eventually(func() int { return hub.ClientCount("payment.7") }).WithTimeout(time.Second).Should(gomega.Equal(1))

		// When
		conn.Close()

		// Then
		gomega.Eventually(func() int { return hub.ClientCount("payment.7") }).WithTimeout(2 * time.Second).Should(gomega.Equal(0))
	})
})
