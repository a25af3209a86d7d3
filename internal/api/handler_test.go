package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dinsac/support-chat/internal/chat"
)

type stubTransport struct {
	events chan chat.Event
	mu     sync.Mutex
	sent   []chat.Message
}

func (s *stubTransport) Send(m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *stubTransport) Events() <-chan chat.Event { return s.events }
func (s *stubTransport) Close() error              { return nil }

type stubGateway struct {
	directory []chat.Session
	history   map[string][]chat.Message
	uploadURL string
}

func (s *stubGateway) ListSessions(ctx context.Context) ([]chat.Session, error) {
	return s.directory, nil
}

func (s *stubGateway) FetchHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.history[sessionID], nil
}

func (s *stubGateway) DeleteHistory(ctx context.Context, sessionID string) error { return nil }

func (s *stubGateway) UploadAttachment(ctx context.Context, sessionID, filename string, data io.Reader) (string, error) {
	io.Copy(io.Discard, data)
	return s.uploadURL, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubTransport) {
	t.Helper()
	tr := &stubTransport{events: make(chan chat.Event, 16)}
	gw := &stubGateway{
		directory: []chat.Session{{ID: "C1", DisplayName: "Ana"}},
		history: map[string][]chat.Message{
			"C1": {{Sender: chat.SenderCustomer, Body: "hola", SessionID: "C1", Timestamp: time.Now().UTC()}},
		},
		uploadURL: "http://store/files/abc.png",
	}

	coord := chat.NewCoordinator(tr, gw, "Support")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coord.Run(ctx)
	if err := coord.RefreshDirectory(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(coord))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tr
}

func doReq(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListSessions(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, srv.URL+"/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var sessions []chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "C1" || sessions[0].DisplayName != "Ana" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestSelectAndListMessages(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doReq(t, http.MethodPost, srv.URL+"/sessions/C1/select", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select status = %d", resp.StatusCode)
	}
	var conv struct {
		ActiveSessionID string         `json:"activeSessionId"`
		Messages        []chat.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.ActiveSessionID != "C1" || len(conv.Messages) != 1 || conv.Messages[0].Body != "hola" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	resp = doReq(t, http.MethodGet, srv.URL+"/messages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("messages status = %d", resp.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	srv, tr := newTestServer(t)

	doReq(t, http.MethodPost, srv.URL+"/sessions/C1/select", nil)

	resp := doReq(t, http.MethodPost, srv.URL+"/messages", strings.NewReader(`{"body":"gracias"}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr.mu.Lock()
		n := len(tr.sent)
		tr.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("message never transmitted")
}

func TestSendMessageWithoutSelection(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doReq(t, http.MethodPost, srv.URL+"/messages", strings.NewReader(`{"body":"hola"}`))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSendAttachment(t *testing.T) {
	srv, _ := newTestServer(t)

	doReq(t, http.MethodPost, srv.URL+"/sessions/C1/select", nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "foto.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("image-bytes"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/attachments", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post attachment: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	conv := doReq(t, http.MethodGet, srv.URL+"/messages", nil)
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.NewDecoder(conv.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	last := out.Messages[len(out.Messages)-1]
	if last.Body != "http://store/files/abc.png" || last.Sender != chat.SenderOperator {
		t.Fatalf("unexpected attachment message: %+v", last)
	}
}

func TestDeleteActiveSession(t *testing.T) {
	srv, _ := newTestServer(t)

	doReq(t, http.MethodPost, srv.URL+"/sessions/C1/select", nil)

	resp := doReq(t, http.MethodDelete, srv.URL+"/sessions/active", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	list := doReq(t, http.MethodGet, srv.URL+"/sessions", nil)
	var sessions []chat.Session
	if err := json.NewDecoder(list.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("session not removed: %+v", sessions)
	}
}
