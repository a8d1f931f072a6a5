package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/co-de-er123/CrowdAid/internal/domain"
)

const defaultTimeout = 10 * time.Second

// apiResponse is the server's response envelope: the useful body sits under
// "data", errors under "message".
type apiResponse struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Status  int             `json:"status"`
}

// Client talks to the CrowdAid REST API. It is safe for concurrent use; the
// bearer token may be swapped at any time (e.g. after login).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// SetToken installs the bearer token attached to subsequent requests. An
// empty token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the currently installed bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do performs one JSON API call: marshal body, attach auth, unwrap the
// response envelope into out. A nil out discards the response data.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// upload performs one multipart POST attaching the named files under field.
func (c *Client) upload(ctx context.Context, path, field string, filePaths []string, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range filePaths {
		if err := addFormFile(mw, field, p); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req, out)
}

func addFormFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("add upload part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read upload %s: %w", path, err)
	}
	return nil
}

// send performs the request and unwraps the response into out. A body is
// treated as the {data, message, status} envelope only when it carries one of
// those keys; anything else is taken as a bare object. An envelope that
// decodes but carries no data is a server bug and surfaces as an error
// instead of a zero-valued out.
func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiResponse
	isEnvelope := false
	if len(raw) > 0 {
		var probe map[string]json.RawMessage
		// Non-JSON bodies (e.g. proxy error pages) fall through to the
		// status mapping below.
		if err := json.Unmarshal(raw, &probe); err != nil {
			if resp.StatusCode < 300 {
				return fmt.Errorf("decode response envelope: %w", err)
			}
		} else {
			for _, key := range []string{"data", "message", "status"} {
				if _, ok := probe[key]; ok {
					isEnvelope = true
					break
				}
			}
			if isEnvelope {
				if err := json.Unmarshal(raw, &envelope); err != nil {
					// A bare object whose own fields collide with the
					// envelope's (a help request has a status string).
					isEnvelope = false
					envelope = apiResponse{}
				}
			}
		}
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, envelope.Message)
	}

	if out != nil {
		data := envelope.Data
		if !isEnvelope {
			data = raw
		}
		if len(data) == 0 {
			return errors.New("response carries no data")
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// statusError maps an HTTP status to a sentinel error, keeping the server's
// message in the chain.
func statusError(status int, message string) error {
	var base error
	switch {
	case status == http.StatusUnauthorized:
		base = domain.ErrUnauthorized
	case status == http.StatusForbidden:
		base = domain.ErrForbidden
	case status == http.StatusNotFound:
		base = domain.ErrNotFound
	case status == http.StatusConflict:
		base = domain.ErrConflict
	case status >= 500:
		base = domain.ErrInternal
	default:
		base = domain.ErrInvalidInput
	}
	if message == "" {
		return fmt.Errorf("%w (http %d)", base, status)
	}
	return fmt.Errorf("%w: %s", base, message)
}
