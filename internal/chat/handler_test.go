package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/vietcare/booking-gateway/internal/session"
	"github.com/vietcare/booking-gateway/pkg/logging"
)

// mockTranscript stores messages in memory.
type mockTranscript struct {
	store map[string][]Message
}

func newMockTranscript() *mockTranscript {
	return &mockTranscript{store: make(map[string][]Message)}
}

func (m *mockTranscript) Append(_ context.Context, patientID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	m.store[patientID] = append(m.store[patientID], msg)
	return nil
}

func (m *mockTranscript) List(_ context.Context, patientID string, limit int64) ([]Message, error) {
	msgs := m.store[patientID]
	if limit > 0 && int64(len(msgs)) > limit {
		msgs = msgs[int64(len(msgs))-limit:]
	}
	return msgs, nil
}

func newChatServer(t *testing.T, transcript Transcript) (*Handler, *httptest.Server) {
	t.Helper()
	h := NewHandler(transcript, logging.New("error"))
	r := chi.NewRouter()
	r.Use(session.Middleware())
	r.Mount("/api/chat", h.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

func dialChat(t *testing.T, srv *httptest.Server, patientID, fullName string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	cfg, err := websocket.NewConfig(wsURL, srv.URL)
	require.NoError(t, err)
	cfg.Header = http.Header{}
	cfg.Header.Set(session.HeaderPatientID, patientID)
	cfg.Header.Set(session.HeaderFullName, fullName)
	conn, err := websocket.DialConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receiveOutbound(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	return msg
}

func TestWebSocketStoresAndEchoesMessage(t *testing.T) {
	ts := newMockTranscript()
	_, srv := newChatServer(t, ts)

	conn := dialChat(t, srv, "patient-1", "Nguyen Van A")

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "When should I arrive?"}))

	echo := receiveOutbound(t, conn)
	assert.Equal(t, "message", echo.Type)
	assert.Equal(t, "patient", echo.Role)
	assert.Equal(t, "Nguyen Van A", echo.Author)
	assert.Equal(t, "When should I arrive?", echo.Text)

	msgs := ts.store["patient-1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "patient", msgs[0].Role)
	assert.Equal(t, "When should I arrive?", msgs[0].Body)
}

func TestWebSocketPingPong(t *testing.T) {
	_, srv := newChatServer(t, newMockTranscript())

	conn := dialChat(t, srv, "patient-1", "Nguyen Van A")

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "ping"}))
	msg := receiveOutbound(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestWebSocketReplaysHistory(t *testing.T) {
	ts := newMockTranscript()
	require.NoError(t, ts.Append(context.Background(), "patient-1", Message{Role: "staff", Author: "Dr. Pham", Body: "Please fast beforehand"}))
	_, srv := newChatServer(t, ts)

	conn := dialChat(t, srv, "patient-1", "Nguyen Van A")

	msg := receiveOutbound(t, conn)
	assert.Equal(t, "history", msg.Type)
	require.Len(t, msg.Messages, 1)
	assert.Equal(t, "Please fast beforehand", msg.Messages[0].Body)
}

func TestStaffReplyReachesConnectedPatient(t *testing.T) {
	ts := newMockTranscript()
	h, srv := newChatServer(t, ts)

	conn := dialChat(t, srv, "patient-1", "Nguyen Van A")

	body := `{"patient_id":"patient-1","text":"Your appointment is confirmed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/chat/reply", strings.NewReader(body))
	req = req.WithContext(session.WithSession(req.Context(), session.Session{PatientID: "staff-1", FullName: "Reception", Role: "admin"}))
	w := httptest.NewRecorder()
	h.HandleStaffReply(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	msg := receiveOutbound(t, conn)
	assert.Equal(t, "message", msg.Type)
	assert.Equal(t, "staff", msg.Role)
	assert.Equal(t, "Reception", msg.Author)
	assert.Equal(t, "Your appointment is confirmed", msg.Text)

	msgs := ts.store["patient-1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "staff", msgs[0].Role)
}

func TestStaffReplyValidatesBody(t *testing.T) {
	h := NewHandler(newMockTranscript(), logging.New("error"))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/chat/reply", strings.NewReader(`{"patient_id":"","text":"hi"}`))
	req = req.WithContext(session.WithSession(req.Context(), session.Session{PatientID: "staff-1", Role: "admin"}))
	w := httptest.NewRecorder()
	h.HandleStaffReply(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newMockTranscript()
	require.NoError(t, ts.Append(context.Background(), "patient-1", Message{Role: "patient", Body: "hello"}))
	_, srv := newChatServer(t, ts)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/chat/history", nil)
	require.NoError(t, err)
	req.Header.Set(session.HeaderPatientID, "patient-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Messages []Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "hello", payload.Messages[0].Body)
}

func TestWebSocketRejectsAnonymous(t *testing.T) {
	_, srv := newChatServer(t, newMockTranscript())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	cfg, err := websocket.NewConfig(wsURL, srv.URL)
	require.NoError(t, err)
	_, err = websocket.DialConfig(cfg)
	assert.Error(t, err)
}
