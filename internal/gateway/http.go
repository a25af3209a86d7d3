package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dinsac/support-chat/internal/chat"
)

// HTTPGateway talks to the external message store over its REST surface:
//
//	GET    /sessions-directory        -> [{id, displayName}]
//	GET    /history/{sessionId}       -> [Message]
//	DELETE /history/{sessionId}       -> ack
//	POST   /attachment/{sessionId}    -> {referenceURL}
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var out []chat.Session
	if err := g.getJSON(ctx, "/sessions-directory", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *HTTPGateway) FetchHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var out []chat.Message
	if err := g.getJSON(ctx, "/history/"+url.PathEscape(sessionID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *HTTPGateway) DeleteHistory(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		g.baseURL+"/history/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (g *HTTPGateway) UploadAttachment(ctx context.Context, sessionID, filename string, data io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/attachment/"+url.PathEscape(sessionID), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		ReferenceURL string `json:"referenceURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ReferenceURL == "" {
		return "", fmt.Errorf("upload response missing referenceURL")
	}
	return out.ReferenceURL, nil
}

func (g *HTTPGateway) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("store api error: %s body=%s", resp.Status, body)
}
