package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	paymentpkg "github.com/ronakch1234/payment-reconciler/internal/payment"
)

type mockService struct {
	recordError error
	listError   error
	getError    error
	payment     *payment.Payment
	payments    []*payment.Payment

	lastRequest *paymentpkg.WebhookRequest
	lastFilter  paymentpkg.Filter
	lastID      int64
}

func (m *mockService) RecordPayment(ctx context.Context, req *paymentpkg.WebhookRequest) (*payment.Payment, error) {
	m.lastRequest = req
	if m.recordError != nil {
		return nil, m.recordError
	}
	return m.payment, nil
}

func (m *mockService) ListPayments(ctx context.Context, filter paymentpkg.Filter) ([]*payment.Payment, error) {
	m.lastFilter = filter
	if m.listError != nil {
		return nil, m.listError
	}
	return m.payments, nil
}

func (m *mockService) GetPayment(ctx context.Context, id int64) (*payment.Payment, error) {
	m.lastID = id
	if m.getError != nil {
		return nil, m.getError
	}
	return m.payment, nil
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(recorder *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]map[string]interface{}
	gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(gomega.Succeed())
	return body["error"]
}

var _ = ginkgo.Describe("Handler", func() {
	var (
		handler  *paymentpkg.Handler
		service  *mockService
		recorder *httptest.ResponseRecorder
		stored   *payment.Payment
	)

	ginkgo.BeforeEach(func() {
		stored = &payment.Payment{
			ID:            7,
			TransactionID: "tx1",
			Amount:        decimal.RequireFromString("10.00"),
			Status:        payment.StatusFailed,
		}
		service = &mockService{payment: stored}
		handler = paymentpkg.NewHandler(service)
		recorder = httptest.NewRecorder()
	})

	ginkgo.Context("ReceiveWebhook", func() {
		ginkgo.It("returns 201 with the stored payment", func() {
			body := []byte(`{"transactionId":"tx1","amount":10.00,"status":"FAILED","timestamp":"2024-01-01T00:00:00Z"}`)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))

			handler.ReceiveWebhook(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(service.lastRequest.TransactionID).To(gomega.Equal("tx1"))
			gomega.Expect(service.lastRequest.Amount.Equal(decimal.NewFromInt(10))).To(gomega.BeTrue())
			gomega.Expect(service.lastRequest.Timestamp.Year()).To(gomega.Equal(2024))

			var resp map[string]interface{}
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp["id"]).To(gomega.BeEquivalentTo(7))
			gomega.Expect(resp["status"]).To(gomega.Equal("FAILED"))
		})

		ginkgo.It("returns 400 for a body that is not JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader([]byte("invalid json")))

			handler.ReceiveWebhook(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(decodeError(recorder)["code"]).To(gomega.Equal("INVALID_BODY"))
			gomega.Expect(service.lastRequest).To(gomega.BeNil())
		})

		ginkgo.It("returns 400 when the service rejects the event", func() {
			service.recordError = internal.NewValidationFieldError("amount", "amount should be greater than zero", internal.ErrCodeInvalidAmount)
			body := []byte(`{"transactionId":"tx1","amount":0,"status":"SUCCESS","timestamp":"2024-01-01T00:00:00Z"}`)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))

			handler.ReceiveWebhook(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(decodeError(recorder)["type"]).To(gomega.Equal("VALIDATION_ERROR"))
		})

		ginkgo.It("returns 500 without leaking the cause on store failure", func() {
			service.recordError = internal.NewStoreError("insert payment", errors.New("password authentication failed"))
			body := []byte(`{"transactionId":"tx1","amount":1,"status":"SUCCESS","timestamp":"2024-01-01T00:00:00Z"}`)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))

			handler.ReceiveWebhook(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusInternalServerError))
			gomega.Expect(recorder.Body.String()).ToNot(gomega.ContainSubstring("password"))
		})

		ginkgo.It("returns 500 for errors that are not AppErrors", func() {
			service.recordError = errors.New("boom")
			body := []byte(`{"transactionId":"tx1","amount":1,"status":"SUCCESS","timestamp":"2024-01-01T00:00:00Z"}`)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))

			handler.ReceiveWebhook(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusInternalServerError))
			gomega.Expect(recorder.Body.String()).ToNot(gomega.ContainSubstring("boom"))
		})
	})

	ginkgo.Context("ListPayments", func() {
		ginkgo.It("returns 200 with a JSON array", func() {
			service.payments = []*payment.Payment{stored}
			req := httptest.NewRequest(http.MethodGet, "/payments", nil)

			handler.ListPayments(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			var resp []map[string]interface{}
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp).To(gomega.HaveLen(1))
			gomega.Expect(service.lastFilter).To(gomega.Equal(paymentpkg.AllPayments{}))
		})

		ginkgo.It("returns an empty array rather than null", func() {
			service.payments = []*payment.Payment{}
			req := httptest.NewRequest(http.MethodGet, "/payments", nil)

			handler.ListPayments(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(recorder.Body.String()).To(gomega.Equal("[]\n"))
		})

		ginkgo.It("passes a status filter through", func() {
			req := httptest.NewRequest(http.MethodGet, "/payments?status=FAILED", nil)

			handler.ListPayments(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(service.lastFilter).To(gomega.Equal(paymentpkg.ByStatus{Status: payment.StatusFailed}))
		})

		ginkgo.It("rejects an unknown status before reaching the store", func() {
			req := httptest.NewRequest(http.MethodGet, "/payments?status=FAILED'%20OR%201=1--", nil)

			handler.ListPayments(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(service.lastFilter).To(gomega.BeNil())
		})
	})

	ginkgo.Context("GetPayment", func() {
		ginkgo.It("returns 200 for an existing payment", func() {
			req := withURLParam(httptest.NewRequest(http.MethodGet, "/payments/7", nil), "id", "7")

			handler.GetPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(service.lastID).To(gomega.Equal(int64(7)))
		})

		ginkgo.It("returns 400 for a non-numeric id", func() {
			req := withURLParam(httptest.NewRequest(http.MethodGet, "/payments/abc", nil), "id", "abc")

			handler.GetPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("returns 404 when the payment does not exist", func() {
			service.getError = internal.ErrPaymentNotFound
			req := withURLParam(httptest.NewRequest(http.MethodGet, "/payments/99", nil), "id", "99")

			handler.GetPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusNotFound))
			gomega.Expect(decodeError(recorder)["code"]).To(gomega.Equal("PAYMENT_NOT_FOUND"))
		})
	})
})
