package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	service  *app.AttemptService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	domain.Answer
}

type submitPayload struct {
	Confirm bool `json:"confirm"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type answerSaved struct {
	QuestionID string `json:"questionId"`
	Unanswered int    `json:"unanswered"`
}

type confirmSubmit struct {
	Unanswered int `json:"unanswered"`
}

type deniedPayload struct {
	Message  string       `json:"message"`
	Decision app.Decision `json:"decision"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// ServeWS upgrades HTTP requests to websockets and attaches the connection to the user's
// attempt session as one view.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("user_id", userID), zap.String("quiz_id", quizID))

	session, events, cancel, err := h.service.Join(r.Context(), userID, quizID)
	if err != nil {
		_ = conn.WriteJSON(h.joinFailure(r.Context(), userID, quizID, err))
		return
	}

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	push := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: string(ev.Kind), Payload: ev}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	push(outboundMessage{Type: "attempt", Payload: session.View()})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
				push(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid answer payload", Code: "bad_request"}})
				continue
			}
			if err := session.SetAnswer(payload.QuestionID, payload.Answer); err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage{Type: "answer_saved", Payload: answerSaved{
				QuestionID: payload.QuestionID,
				Unanswered: session.UnansweredCount(),
			}})
		case "submit":
			var payload submitPayload
			if len(inbound.Payload) > 0 {
				_ = json.Unmarshal(inbound.Payload, &payload)
			}
			if !payload.Confirm && session.Status() == domain.StatusInProgress {
				if unanswered := session.UnansweredCount(); unanswered > 0 {
					push(outboundMessage{Type: "confirm_submit", Payload: confirmSubmit{Unanswered: unanswered}})
					continue
				}
			}
			// Success reaches every view through the session's submitted event.
			attempt, err := session.Submit(r.Context())
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrAlreadySubmitted):
				push(outboundMessage{Type: "already_submitted", Payload: attempt})
			default:
				push(errorMessage(err))
			}
		case "refresh":
			if _, err := session.Refresh(r.Context()); err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage{Type: "attempt", Payload: session.View()})
		default:
			push(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type", Code: "bad_request"}})
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
	h.service.Leave(session, cancel)
}

func (h *WSHandler) joinFailure(ctx context.Context, userID, quizID string, err error) outboundMessage {
	if !errors.Is(err, domain.ErrPolicyDenied) {
		return errorMessage(err)
	}
	payload := deniedPayload{Message: err.Error()}
	if decision, derr := h.service.Eligibility(ctx, userID, quizID); derr == nil {
		payload.Decision = decision
	}
	return outboundMessage{Type: "denied", Payload: payload}
}

func errorMessage(err error) outboundMessage {
	retryable := errors.Is(err, domain.ErrSubmissionFailed) || errors.Is(err, domain.ErrStartFailed)
	return outboundMessage{Type: "error", Payload: errorPayload{
		Message:   err.Error(),
		Code:      domain.ErrorCode(err),
		Retryable: retryable,
	}}
}
