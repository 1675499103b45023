package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/vietcare/booking-gateway/internal/appointment"
	"github.com/vietcare/booking-gateway/internal/catalog"
	"github.com/vietcare/booking-gateway/internal/payment"
	"github.com/vietcare/booking-gateway/internal/schedule"
	"github.com/vietcare/booking-gateway/internal/session"
)

type fakeCatalog struct {
	services []catalog.Service
	doctors  []catalog.Doctor
	price    *catalog.Price
	priceErr error
}

func (f *fakeCatalog) ListServices(ctx context.Context) ([]catalog.Service, error) {
	return f.services, nil
}

func (f *fakeCatalog) ListDoctors(ctx context.Context, serviceName string) ([]catalog.Doctor, error) {
	return f.doctors, nil
}

func (f *fakeCatalog) GetPrice(ctx context.Context, typeName string) (*catalog.Price, error) {
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return f.price, nil
}

type fakeSchedule struct {
	rows      []schedule.WorkSchedule
	rangeRows []schedule.WorkSchedule
}

func (f *fakeSchedule) ListByDoctorDate(ctx context.Context, doctorID string, date time.Time) ([]schedule.WorkSchedule, error) {
	return f.rows, nil
}

func (f *fakeSchedule) ListByDoctorRange(ctx context.Context, doctorID string, from, to time.Time) ([]schedule.WorkSchedule, error) {
	return f.rangeRows, nil
}

type fakeAppointments struct {
	mu        sync.Mutex
	conflict  bool
	createErr error
	created   []appointment.CreateRequest
}

func (f *fakeAppointments) HasAppointment(ctx context.Context, patientID, workScheduleID string) (bool, error) {
	return f.conflict, nil
}

func (f *fakeAppointments) Create(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &appointment.Appointment{ID: "appt-1", Status: "booked", TransactionCode: req.TransactionCode}, nil
}

func (f *fakeAppointments) createdRequests() []appointment.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]appointment.CreateRequest, len(f.created))
	copy(out, f.created)
	return out
}

type testEnv struct {
	srv     *httptest.Server
	rdb     *redis.Client
	appts   *fakeAppointments
	handler *Handler
	now     time.Time
}

func newTestEnv(t *testing.T, cat *fakeCatalog, appts *fakeAppointments) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tomorrow := now.AddDate(0, 0, 1).Format(schedule.DateLayout)
	dayAfter := now.AddDate(0, 0, 2).Format(schedule.DateLayout)
	free := schedule.WorkSchedule{
		ID:       "ws-1",
		DoctorID: "doc1",
		Date:     tomorrow,
		Shift:    schedule.Shift{ID: "s1", Label: "08:00-12:00", Start: "08:00", End: "12:00"},
		Status:   "active", Remaining: 3,
	}
	full := free
	full.ID, full.Date, full.Remaining = "ws-2", dayAfter, 0
	sched := &fakeSchedule{
		rows:      []schedule.WorkSchedule{free},
		rangeRows: []schedule.WorkSchedule{free, full},
	}

	watcher := payment.NewWatcher(rdb, 10*time.Millisecond, nil)
	h := NewHandler(NewStore(), cat, sched, appts, watcher, Config{
		BankAccountNumber: "19036812345678",
		BankCode:          "TCB",
		DefaultPriceCents: 15000000,
		Currency:          "VND",
	}, nil, nil)
	h.now = func() time.Time { return now }

	r := chi.NewRouter()
	r.Use(session.Middleware())
	r.Mount("/api/booking", h.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, rdb: rdb, appts: appts, handler: h, now: now}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(session.HeaderPatientID, "patient-1")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) state(t *testing.T) map[string]any {
	t.Helper()
	_, body := e.do(t, http.MethodGet, "/api/booking", nil)
	return body
}

func TestBookingEndToEnd(t *testing.T) {
	cat := &fakeCatalog{
		services: []catalog.Service{{ID: "svc1", Name: "Cardiology", Active: true}},
		doctors:  []catalog.Doctor{{ID: "doc1", FullName: "Dr. Pham", Active: true}},
		price:    &catalog.Price{Type: "Cardiology", AmountCents: 25000000, Currency: "VND"},
	}
	appts := &fakeAppointments{}
	env := newTestEnv(t, cat, appts)
	tomorrow := env.now.AddDate(0, 0, 1).Format(schedule.DateLayout)

	resp, body := env.do(t, http.MethodPost, "/api/booking", nil)
	if resp.StatusCode != http.StatusCreated || body["state"] != "selecting_service" {
		t.Fatalf("start: %d %#v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select service: %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select doctor: %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/booking/slots?date="+tomorrow, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slots: %d %#v", resp.StatusCode, body)
	}
	slots := body["slots"].([]any)
	if len(slots) != 1 {
		t.Fatalf("expected one grouped slot, got %#v", slots)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": tomorrow, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select slot: %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/api/booking/continue", map[string]string{"note": "chest pain"})
	if resp.StatusCode != http.StatusOK || body["state"] != "awaiting_payment" {
		t.Fatalf("continue: %d %#v", resp.StatusCode, body)
	}
	pay := body["payment"].(map[string]any)
	if pay["amountCents"].(float64) != 25000000 {
		t.Fatalf("expected looked-up fee, got %#v", pay)
	}
	txCode := pay["transactionCode"].(string)
	if txCode != "ws-1patient1" {
		t.Fatalf("unexpected transaction code %q", txCode)
	}

	// Simulated payment-confirmed push.
	payload := `{"status":"success","transaction_content":"` + txCode + `"}`
	if err := env.rdb.Publish(context.Background(), payment.ResultChannel("patient-1"), payload).Err(); err != nil {
		t.Fatalf("publish result: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.state(t)["state"] == "confirmed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	final := env.state(t)
	if final["state"] != "confirmed" {
		t.Fatalf("expected confirmed, got %#v", final)
	}
	appt := final["appointment"].(map[string]any)
	if appt["id"] != "appt-1" {
		t.Fatalf("expected appointment in summary, got %#v", appt)
	}
	sel := final["selection"].(map[string]any)
	if sel["serviceName"] != "Cardiology" || sel["doctorName"] != "Dr. Pham" || sel["date"] != tomorrow {
		t.Fatalf("confirmation summary incomplete: %#v", sel)
	}

	created := appts.createdRequests()
	if len(created) != 1 {
		t.Fatalf("expected exactly one appointment creation, got %d", len(created))
	}
	if created[0].TransactionCode != txCode || created[0].AmountCents != 25000000 {
		t.Fatalf("unexpected create request %#v", created[0])
	}
}

func TestContinueBlockedWithoutSlot(t *testing.T) {
	cat := &fakeCatalog{price: &catalog.Price{Type: "Cardiology", AmountCents: 1}}
	env := newTestEnv(t, cat, &fakeAppointments{})

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})

	resp, _ := env.do(t, http.MethodPost, "/api/booking/continue", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without a slot, got %d", resp.StatusCode)
	}
	if env.state(t)["state"] != "selecting_datetime" {
		t.Fatalf("blocked continue must not advance state")
	}
}

func TestSlotConflictBlocksSelection(t *testing.T) {
	cat := &fakeCatalog{}
	appts := &fakeAppointments{conflict: true}
	env := newTestEnv(t, cat, appts)
	tomorrow := env.now.AddDate(0, 0, 1).Format(schedule.DateLayout)

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})

	resp, body := env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": tomorrow, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 conflict, got %d %#v", resp.StatusCode, body)
	}
	sel := env.state(t)["selection"].(map[string]any)
	if sel["workScheduleId"] != "" {
		t.Fatalf("conflict must leave work schedule unset, got %#v", sel)
	}
}

func TestSlotRejectsOutOfWindowDate(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{}, &fakeAppointments{})

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})

	yesterday := env.now.AddDate(0, 0, -1).Format(schedule.DateLayout)
	resp, _ := env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": yesterday, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for past date, got %d", resp.StatusCode)
	}

	farOut := env.now.AddDate(0, 0, 31).Format(schedule.DateLayout)
	resp, _ = env.do(t, http.MethodGet, "/api/booking/slots?date="+farOut, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 beyond horizon, got %d", resp.StatusCode)
	}
}

func TestConflictingSlotDuringPaymentRejected(t *testing.T) {
	cat := &fakeCatalog{price: &catalog.Price{Type: "Cardiology", AmountCents: 100}}
	appts := &fakeAppointments{}
	env := newTestEnv(t, cat, appts)
	tomorrow := env.now.AddDate(0, 0, 1).Format(schedule.DateLayout)

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})
	env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": tomorrow, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-1",
	})
	resp, _ := env.do(t, http.MethodPost, "/api/booking/continue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("continue: %d", resp.StatusCode)
	}

	// A late slot request, now colliding with an existing appointment, must be
	// rejected without touching the committed selection.
	appts.conflict = true
	resp, _ = env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": tomorrow, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-9",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for slot request during payment, got %d", resp.StatusCode)
	}

	state := env.state(t)
	if state["state"] != "awaiting_payment" {
		t.Fatalf("slot request must not move the wizard, got %v", state["state"])
	}
	sel := state["selection"].(map[string]any)
	if sel["workScheduleId"] != "ws-1" || sel["date"] != tomorrow {
		t.Fatalf("committed selection was modified: %#v", sel)
	}
}

func TestDatesMarksFullyBookedDays(t *testing.T) {
	env := newTestEnv(t, &fakeCatalog{}, &fakeAppointments{})
	tomorrow := env.now.AddDate(0, 0, 1).Format(schedule.DateLayout)
	dayAfter := env.now.AddDate(0, 0, 2).Format(schedule.DateLayout)

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})

	resp, _ := env.do(t, http.MethodGet, "/api/booking/dates", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before a doctor is selected, got %d", resp.StatusCode)
	}

	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})

	resp, body := env.do(t, http.MethodGet, "/api/booking/dates", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dates: %d %#v", resp.StatusCode, body)
	}
	dates := body["dates"].([]any)
	if len(dates) != 2 {
		t.Fatalf("expected two picker days, got %#v", dates)
	}
	byDate := make(map[string]bool, len(dates))
	for _, d := range dates {
		day := d.(map[string]any)
		byDate[day["date"].(string)] = day["available"].(bool)
	}
	if !byDate[tomorrow] {
		t.Fatalf("day with free capacity must be available: %#v", byDate)
	}
	if byDate[dayAfter] {
		t.Fatalf("fully booked day must be unavailable: %#v", byDate)
	}
}

func TestLateConfirmationAfterLeavingPaymentCreatesNothing(t *testing.T) {
	cat := &fakeCatalog{price: &catalog.Price{Type: "Cardiology", AmountCents: 100}}
	appts := &fakeAppointments{}
	env := newTestEnv(t, cat, appts)
	tomorrow := env.now.AddDate(0, 0, 1).Format(schedule.DateLayout)

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})
	env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": tomorrow, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-1",
	})
	env.do(t, http.MethodPost, "/api/booking/continue", nil)
	env.do(t, http.MethodPost, "/api/booking/back", nil)

	// A confirmation that was already in flight when the step was left must
	// not create an appointment.
	wz, ok := env.handler.store.Get("patient-1")
	if !ok {
		t.Fatalf("wizard missing")
	}
	if err := env.handler.completeBooking("patient-1", wz, "ws-1patient1"); err == nil {
		t.Fatalf("expected completion to refuse after the payment step was left")
	}
	if created := appts.createdRequests(); len(created) != 0 {
		t.Fatalf("no appointment may be created after leaving payment, got %#v", created)
	}
}

func TestBackFromPaymentStopsHeartbeat(t *testing.T) {
	cat := &fakeCatalog{price: &catalog.Price{Type: "Cardiology", AmountCents: 100}}
	env := newTestEnv(t, cat, &fakeAppointments{})
	tomorrow := env.now.AddDate(0, 0, 1).Format(schedule.DateLayout)

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})
	env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": tomorrow, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-1",
	})

	checkSub := env.rdb.Subscribe(context.Background(), payment.CheckChannel)
	defer checkSub.Close()
	checkCh := checkSub.Channel()

	resp, _ := env.do(t, http.MethodPost, "/api/booking/continue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("continue: %d", resp.StatusCode)
	}
	select {
	case <-checkCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a heartbeat while awaiting payment")
	}

	resp, body := env.do(t, http.MethodPost, "/api/booking/back", nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "selecting_datetime" {
		t.Fatalf("back: %d %#v", resp.StatusCode, body)
	}

	drained := time.After(50 * time.Millisecond)
drain:
	for {
		select {
		case <-checkCh:
		case <-drained:
			break drain
		}
	}
	select {
	case msg := <-checkCh:
		t.Fatalf("heartbeat after leaving payment step: %q", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}

	// A stale confirmation must be ignored after the step was left.
	_ = env.rdb.Publish(context.Background(), payment.ResultChannel("patient-1"), `{"status":"success"}`).Err()
	time.Sleep(50 * time.Millisecond)
	if env.state(t)["state"] != "selecting_datetime" {
		t.Fatalf("stale confirmation must not advance the wizard")
	}
}

func TestFailedCreationSurfacedNotRetried(t *testing.T) {
	cat := &fakeCatalog{price: &catalog.Price{Type: "Cardiology", AmountCents: 100}}
	appts := &fakeAppointments{createErr: errors.New("appointment service down")}
	env := newTestEnv(t, cat, appts)
	tomorrow := env.now.AddDate(0, 0, 1).Format(schedule.DateLayout)

	env.do(t, http.MethodPost, "/api/booking", nil)
	env.do(t, http.MethodPost, "/api/booking/service", map[string]string{"id": "svc1", "name": "Cardiology"})
	env.do(t, http.MethodPost, "/api/booking/doctor", map[string]string{"id": "doc1", "fullName": "Dr. Pham"})
	env.do(t, http.MethodPost, "/api/booking/slot", map[string]string{
		"date": tomorrow, "shiftId": "s1", "shiftLabel": "08:00-12:00", "workScheduleId": "ws-1",
	})
	env.do(t, http.MethodPost, "/api/booking/continue", nil)

	_ = env.rdb.Publish(context.Background(), payment.ResultChannel("patient-1"), `{"status":"success"}`).Err()

	deadline := time.Now().Add(2 * time.Second)
	var body map[string]any
	for time.Now().Before(deadline) {
		body = env.state(t)
		if _, ok := body["paymentError"]; ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := body["paymentError"]; !ok {
		t.Fatalf("expected surfaced payment error, got %#v", body)
	}
	if body["state"] != "awaiting_payment" {
		t.Fatalf("failed creation must leave the wizard awaiting manual retry, got %v", body["state"])
	}
}
