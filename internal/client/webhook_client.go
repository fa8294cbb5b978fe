package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookClient delivers reports by POSTing them as JSON to a fixed URL.
type WebhookClient struct {
	url    string
	client *http.Client
}

func NewWebhookClient(url string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type deliverRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c *WebhookClient) Deliver(ctx context.Context, destination, subject, body string) error {
	reqBody, err := json.Marshal(deliverRequest{
		To:      destination,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(respBody))
	}
	return nil
}
