package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/vietcare/booking-gateway/internal/session"
	"github.com/vietcare/booking-gateway/pkg/logging"
)

// Transcript reads and writes chat history.
type Transcript interface {
	Append(ctx context.Context, patientID string, msg Message) error
	List(ctx context.Context, patientID string, limit int64) ([]Message, error)
}

// Handler manages patient chat connections and staff replies.
type Handler struct {
	transcript Transcript
	logger     *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn // patientID -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

// InboundMessage is what the chat widget sends.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string    `json:"type"` // "message", "history", "pong", "error"
	Role      string    `json:"role,omitempty"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
}

// NewHandler creates a chat handler.
func NewHandler(transcript Transcript, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		transcript: transcript,
		logger:     logger.Component("chat"),
		sessions:   make(map[string]*wsConn),
	}
}

// Routes returns the patient-facing chat routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", h.HandleWebSocket)
	r.Get("/history", h.HandleHistory)
	return r
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing patient session"})
		return
	}

	// Send history if available
	if h.transcript != nil {
		if msgs, err := h.transcript.List(r.Context(), sess.PatientID, 50); err == nil && len(msgs) > 0 {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: msgs})
		}
	}

	// Register connection
	wsc := &wsConn{conn: conn, done: make(chan struct{})}
	h.mu.Lock()
	h.sessions[sess.PatientID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[sess.PatientID] == wsc {
			delete(h.sessions, sess.PatientID)
		}
		h.mu.Unlock()
		close(wsc.done)
	}()

	h.logger.Info("chat: connection opened", "patient_id", sess.PatientID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("chat: connection closed", "patient_id", sess.PatientID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}

		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		h.storePatientMessage(r.Context(), sess, msg.Text)
	}
}

func (h *Handler) storePatientMessage(ctx context.Context, sess session.Session, text string) {
	stored := Message{
		Role:      "patient",
		Author:    sess.FullName,
		Body:      text,
		Timestamp: time.Now().UTC(),
	}
	if h.transcript != nil {
		if err := h.transcript.Append(ctx, sess.PatientID, stored); err != nil {
			h.logger.Error("chat: failed to store message", "error", err, "patient_id", sess.PatientID)
			h.SendToPatient(sess.PatientID, OutboundMessage{
				Type: "error",
				Text: "Sorry, something went wrong. Please try again.",
			})
			return
		}
	}

	// Echo back so the widget renders the stored copy.
	h.SendToPatient(sess.PatientID, OutboundMessage{
		Type:      "message",
		Role:      stored.Role,
		Author:    stored.Author,
		Text:      stored.Body,
		Timestamp: stored.Timestamp.Format(time.RFC3339),
	})
}

// SendToPatient sends a message to an active WebSocket session.
func (h *Handler) SendToPatient(patientID string, msg OutboundMessage) {
	h.mu.RLock()
	wsc, ok := h.sessions[patientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	_ = websocket.JSON.Send(wsc.conn, msg)
}

// HandleHistory returns chat history for the current patient.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "missing patient session", http.StatusUnauthorized)
		return
	}

	msgs, err := h.transcript.List(r.Context(), sess.PatientID, 100)
	if err != nil {
		h.logger.Error("chat: failed to list transcript", "error", err, "patient_id", sess.PatientID)
		http.Error(w, "could not load chat history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

// HandleStaffReply lets clinic staff push a reply into a patient conversation.
func (h *Handler) HandleStaffReply(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}

	var req struct {
		PatientID string `json:"patient_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "patient_id and text are required", http.StatusBadRequest)
		return
	}

	stored := Message{
		Role:      "staff",
		Author:    sess.FullName,
		Body:      req.Text,
		Timestamp: time.Now().UTC(),
	}
	if h.transcript != nil {
		if err := h.transcript.Append(r.Context(), req.PatientID, stored); err != nil {
			h.logger.Error("chat: failed to store staff reply", "error", err, "patient_id", req.PatientID)
			http.Error(w, "could not store reply", http.StatusInternalServerError)
			return
		}
	}

	h.SendToPatient(req.PatientID, OutboundMessage{
		Type:      "message",
		Role:      stored.Role,
		Author:    stored.Author,
		Text:      stored.Body,
		Timestamp: stored.Timestamp.Format(time.RFC3339),
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "delivered"})
}
