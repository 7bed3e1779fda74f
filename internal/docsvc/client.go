package docsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/status"
)

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Client talks to the Document Service over HTTP.
//
// Routes:
//
//	GET  /documents/{id}/status
//	POST /documents/{id}/stamps/initial    {"email": "..."}
//	POST /documents/{id}/stamps/signature  {"email": "..."}
//	GET  /personalities
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL with the given request timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// RequestStatus fetches and normalizes a document's status history.
func (c *Client) RequestStatus(ctx context.Context, documentID string) ([]approval.StatusEvent, error) {
	body, err := c.do(ctx, http.MethodGet, documentPath(documentID, "status"), nil, documentID, "request status")
	if err != nil {
		return nil, err
	}
	return status.Normalize(body), nil
}

// RequestStampInitial posts an initial stamp request.
func (c *Client) RequestStampInitial(ctx context.Context, email, documentID string) error {
	payload := map[string]string{"email": email}
	_, err := c.do(ctx, http.MethodPost, documentPath(documentID, "stamps", "initial"), payload, documentID, "request initial stamp")
	return err
}

// RequestStampSignature posts a signature stamp request.
func (c *Client) RequestStampSignature(ctx context.Context, email, documentID string) error {
	payload := map[string]string{"email": email}
	_, err := c.do(ctx, http.MethodPost, documentPath(documentID, "stamps", "signature"), payload, documentID, "request signature stamp")
	return err
}

// Personalities fetches the approver directory.
func (c *Client) Personalities(ctx context.Context) ([]approval.Person, error) {
	body, err := c.do(ctx, http.MethodGet, "/personalities", nil, "", "list personalities")
	if err != nil {
		return nil, err
	}
	people, err := DecodePersonalities(body)
	if err != nil {
		return nil, fmt.Errorf("decode personalities: %w", err)
	}
	return people, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, documentID, op string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &approval.DocumentProcessingError{DocumentID: documentID, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &approval.DocumentProcessingError{DocumentID: documentID, Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound && documentID != "" {
		return nil, &approval.DocumentNotFoundError{DocumentID: documentID}
	}
	if resp.StatusCode >= 300 {
		return nil, &approval.DocumentProcessingError{
			DocumentID: documentID,
			Op:         op,
			Err:        fmt.Errorf("document service returned %d: %s", resp.StatusCode, snippet(body)),
		}
	}
	if msg := resultError(body); msg != "" {
		return nil, &approval.DocumentProcessingError{DocumentID: documentID, Op: op, Err: fmt.Errorf("%s", msg)}
	}
	return body, nil
}

// resultError extracts {"error": "..."} from a 2xx body.
func resultError(body []byte) string {
	var res struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Error == nil {
		return ""
	}
	switch e := res.Error.(type) {
	case string:
		return e
	case bool:
		if e {
			return "document service reported an error"
		}
		return ""
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

func documentPath(documentID string, parts ...string) string {
	return "/documents/" + url.PathEscape(documentID) + "/" + strings.Join(parts, "/")
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
