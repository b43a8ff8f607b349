package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	payapp "github.com/eeoos/airbob-sub001/internal/payment/application"
	paydomain "github.com/eeoos/airbob-sub001/internal/payment/domain"
	"github.com/eeoos/airbob-sub001/internal/reservation/application"
	"github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/clock"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

// memRepo backs both the reservation service and the payment coordinator in
// handler tests.
type memRepo struct {
	byUID    map[uuid.UUID]domain.Reservation
	payments map[string]paydomain.Payment
	nextID   int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		byUID:    map[uuid.UUID]domain.Reservation{},
		payments: map[string]paydomain.Payment{},
	}
}

func (m *memRepo) CreatePending(_ context.Context, r *domain.Reservation, _, _ string, _ []outbox.Message) error {
	for _, ex := range m.byUID {
		if ex.AccommodationID == r.AccommodationID &&
			(ex.Status == domain.StatusConfirmed || ex.Status == domain.StatusPaymentPending) &&
			domain.Overlaps(ex.CheckIn, ex.CheckOut, r.CheckIn, r.CheckOut) {
			return domain.ErrSlotUnavailable
		}
	}
	m.nextID++
	r.ID = m.nextID
	m.byUID[r.UID] = *r
	return nil
}

func (m *memRepo) FindByUID(_ context.Context, uid uuid.UUID) (domain.Reservation, error) {
	r, ok := m.byUID[uid]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRepo) Transition(_ context.Context, r domain.Reservation, prev domain.Status, _, _ string, _ []outbox.Message) error {
	cur, ok := m.byUID[r.UID]
	if !ok || cur.Status != prev {
		return domain.ErrInvalidState
	}
	m.byUID[r.UID] = r
	return nil
}

func (m *memRepo) ListExpiredPending(context.Context, time.Time, int) ([]domain.Reservation, error) {
	return nil, nil
}

func (m *memRepo) FindByPaymentKey(_ context.Context, key string) (paydomain.Payment, error) {
	p, ok := m.payments[key]
	if !ok {
		return paydomain.Payment{}, paydomain.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) RecordAttempt(context.Context, *paydomain.Attempt) error { return nil }

func (m *memRepo) FinalizeAttempt(context.Context, string, paydomain.AttemptStatus, string) error {
	return nil
}

func (m *memRepo) Settle(_ context.Context, p *paydomain.Payment, next domain.Status, _ string, _ []outbox.Message) error {
	cur, ok := m.byUID[p.ReservationUID]
	if !ok || cur.Status != domain.StatusPaymentPending {
		return domain.ErrInvalidState
	}
	cur.Status = next
	cur.ExpiresAt = nil
	m.byUID[p.ReservationUID] = cur
	m.payments[p.PaymentKey] = *p
	return nil
}

func (m *memRepo) AppendEvents(context.Context, ...outbox.Message) error { return nil }

type memHolds struct{}

func (memHolds) Acquire(context.Context, int64, time.Time, time.Time) (bool, error) {
	return true, nil
}
func (memHolds) Release(context.Context, int64, time.Time, time.Time) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *memRepo) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	repo := newMemRepo()
	clk := clock.NewFixed(testNow)
	svc := application.NewService(log, repo, memHolds{}, clk)
	coord := payapp.NewCoordinator(log, repo, repo, memHolds{}, clk)
	srv := httptest.NewServer(NewHandler(log, svc, coord).Routes())
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, memberID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if memberID != "" {
		req.Header.Set(memberHeader, memberID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

const createBody = `{
	"accommodationId": 42,
	"accommodationUid": "3c4cff04-93f5-4a7f-9b5e-6d2f3a1b8c90",
	"checkInDate": "2026-06-01",
	"checkOutDate": "2026-06-05",
	"guestCount": 2,
	"nightlyRateCents": 12000
}`

func TestCreateReservation(t *testing.T) {
	t.Run("creates a pending reservation", func(t *testing.T) {
		srv, repo := newTestServer(t)

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7", createBody)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.EqualValues(t, 48000, body["totalCents"])
		assert.NotEmpty(t, body["expiresAt"])

		uid, err := uuid.Parse(body["reservationUid"].(string))
		require.NoError(t, err)
		r, err := repo.FindByUID(context.Background(), uid)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaymentPending, r.Status)
		assert.EqualValues(t, 7, r.GuestID)
	})

	t.Run("overlapping range conflicts", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7", createBody)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/reservations", "8", createBody)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Contains(t, body["error"], "unavailable")
	})

	t.Run("missing member identity", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations", "", createBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("malformed dates are rejected", func(t *testing.T) {
		srv, _ := newTestServer(t)
		for _, date := range []string{"2026-13-45", "2026-02-30", "June first"} {
			body := `{
				"accommodationId": 42,
				"accommodationUid": "3c4cff04-93f5-4a7f-9b5e-6d2f3a1b8c90",
				"checkInDate": "` + date + `",
				"checkOutDate": "2026-06-05",
				"guestCount": 2,
				"nightlyRateCents": 12000
			}`
			resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "date %q", date)
		}
	})

	t.Run("validation failure", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7",
			`{"accommodationId": 42, "checkInDate": "June first"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCancelReservation(t *testing.T) {
	srv, _ := newTestServer(t)
	_, body := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7", createBody)
	uid := body["reservationUid"].(string)

	t.Run("owner cancels", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/reservations/"+uid+"/cancel", "7",
			`{"cancelReason": "change of plans"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "CANCELLED", body["status"])
	})

	t.Run("cancel is terminal", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations/"+uid+"/cancel", "7", `{}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		srv, _ := newTestServer(t)
		_, body := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7", createBody)
		uid := body["reservationUid"].(string)

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations/"+uid+"/cancel", "99", `{}`)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations/"+uuid.NewString()+"/cancel", "7", `{}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestConfirmPayment(t *testing.T) {
	srv, repo := newTestServer(t)
	_, body := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7", createBody)
	uid := body["reservationUid"].(string)

	confirm := `{"paymentKey": "pk-1", "orderId": "` + uid + `", "status": "DONE", "amount": 48000}`

	t.Run("confirms on gateway success", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/payments/confirm", "", confirm)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "SUCCEEDED", body["status"])
		assert.Equal(t, false, body["replayed"])

		r, err := repo.FindByUID(context.Background(), uuid.MustParse(uid))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, r.Status)
	})

	t.Run("duplicate callback replays", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/payments/confirm", "", confirm)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["replayed"])
	})

	t.Run("amount mismatch", func(t *testing.T) {
		srv, _ := newTestServer(t)
		_, body := doJSON(t, http.MethodPost, srv.URL+"/reservations", "7", createBody)
		uid := body["reservationUid"].(string)

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/payments/confirm", "",
			`{"paymentKey": "pk-2", "orderId": "`+uid+`", "status": "DONE", "amount": 1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects malformed status", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/payments/confirm", "",
			`{"paymentKey": "pk-3", "orderId": "`+uuid.NewString()+`", "status": "MAYBE", "amount": 1000}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
