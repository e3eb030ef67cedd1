package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/infra/memory"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	*httptest.Server
	attempts *memory.AttemptStore
	service  *app.AttemptService
}

func newTestServer(t *testing.T, quizzes map[string]domain.Quiz) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	loader := memory.NewStaticQuizLoader(quizzes)
	attempts := memory.NewAttemptStore(loader)
	quizRepo := memory.NewQuizRepository(loader, time.Minute)
	service := app.NewAttemptService(memory.NewSessionStore(), quizRepo, attempts, app.WithLogger(logger))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service, logger).ServeWS)
	NewAttemptHandler(quizRepo, attempts, logger).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{Server: server, attempts: attempts, service: service}
}

func (s *testServer) dial(t *testing.T, quizID, userID string) *websocket.Conn {
	t.Helper()
	u := "ws" + s.URL[len("http"):] + "/ws?quizId=" + quizID + "&userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

// readUntil skips tick events and anything else until a message of type expect arrives.
func readUntil(conn *websocket.Conn, t *testing.T, expect string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == expect {
			return payload
		}
	}
	t.Fatalf("no %s message received", expect)
	return nil
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:              "quiz-1",
			Title:           "Arithmetic",
			DurationMinutes: 10,
			MaxAttempts:     1,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.SingleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					Points: 1,
				},
				{
					ID:     "q2",
					Type:   domain.Essay,
					Prompt: "Explain addition.",
					Points: 2,
				},
			},
		},
	}
}
