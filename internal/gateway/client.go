package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lendfield/rcs-dispatch/internal/render"
)

// Client sends messages through the RCS provider's HTTP endpoint. The
// provider acknowledges an accepted message with 202; any other status is a
// failed attempt.
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

var _ Gateway = (*Client)(nil)

func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Params   map[string]string `json:"params"`
}

func (c *Client) Send(ctx context.Context, phone string, payload render.Payload) Result {
	reqBody, err := json.Marshal(sendRequest{
		To:       phone,
		Template: payload.Template,
		Params:   payload.Params,
	})
	if err != nil {
		return Result{Body: "encode request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return Result{Body: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	return Result{
		Success:    resp.StatusCode == http.StatusAccepted,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
