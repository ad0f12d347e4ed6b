package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 15 * time.Second

// GatewayError describes a failed call to the messaging gateway: a non-2xx
// response, a body we could not make sense of, or a transport fault.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": unexpected status code: %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, " body=%q", e.Body)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error { return e.Err }

// GatewayClient talks to the WhatsApp gateway. Every call is a single
// request/response bounded by the client timeout; there are no retries here.
type GatewayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type uploadRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

type uploadedFile struct {
	ID string `json:"id"`
}

// uploadConflict is returned with 409 when the gateway already stores the file.
type uploadConflict struct {
	Status int `json:"status"`
	Meta   struct {
		File string `json:"file"`
	} `json:"meta"`
}

// UploadFile asks the gateway to fetch fileURL and store it, returning the
// gateway-side file id. A conflict answer for a file the gateway already
// holds counts as success and yields the existing id.
func (c *GatewayClient) UploadFile(ctx context.Context, fileURL, filename string) (string, error) {
	const op = "upload file"

	status, body, err := c.post(ctx, "/files", uploadRequest{URL: fileURL, Format: "native"})
	if err != nil {
		return "", &GatewayError{Op: op, Err: err}
	}

	if fileID, ok := parseUploadConflict(status, body); ok {
		return fileID, nil
	}

	if status < 200 || status >= 300 {
		return "", &GatewayError{Op: op, StatusCode: status, Body: string(body)}
	}

	var files []uploadedFile
	if err := json.Unmarshal(body, &files); err != nil {
		return "", &GatewayError{Op: op, Body: string(body), Err: fmt.Errorf("failed to decode json: %w", err)}
	}
	if len(files) == 0 || files[0].ID == "" {
		return "", &GatewayError{Op: op, Body: string(body), Err: fmt.Errorf("missing file id for %s", filename)}
	}
	return files[0].ID, nil
}

func parseUploadConflict(status int, body []byte) (string, bool) {
	var conflict uploadConflict
	if err := json.Unmarshal(body, &conflict); err != nil {
		return "", false
	}
	if status != http.StatusConflict && conflict.Status != http.StatusConflict {
		return "", false
	}
	if conflict.Meta.File == "" {
		return "", false
	}
	return conflict.Meta.File, true
}

type mediaRef struct {
	File string `json:"file"`
}

type sendRequest struct {
	Phone   string    `json:"phone"`
	Message string    `json:"message,omitempty"`
	Media   *mediaRef `json:"media,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// SendText sends a plain text message and returns the gateway message id.
func (c *GatewayClient) SendText(ctx context.Context, phone, text string) (string, error) {
	return c.send(ctx, "send text", sendRequest{Phone: phone, Message: text})
}

// SendMedia sends a message carrying a previously uploaded file.
func (c *GatewayClient) SendMedia(ctx context.Context, phone, fileID string) (string, error) {
	return c.send(ctx, "send media", sendRequest{Phone: phone, Media: &mediaRef{File: fileID}})
}

func (c *GatewayClient) send(ctx context.Context, op string, payload sendRequest) (string, error) {
	status, body, err := c.post(ctx, "/messages", payload)
	if err != nil {
		return "", &GatewayError{Op: op, Err: err}
	}
	if status < 200 || status >= 300 {
		return "", &GatewayError{Op: op, StatusCode: status, Body: string(body)}
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", &GatewayError{Op: op, Body: string(body), Err: fmt.Errorf("failed to decode json: %w", err)}
	}
	if sr.ID == "" {
		return "", &GatewayError{Op: op, Body: string(body), Err: errors.New("missing id in response")}
	}
	return sr.ID, nil
}

func (c *GatewayClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
