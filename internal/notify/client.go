// Package notify предоставляет клиент внешнего сервиса уведомлений заявителей.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avasiliev/proposal-system/internal/model"
)

const (
	notifyPath     = "/api/v1/notify"
	requestTimeout = 5 * time.Second
	maxBodySize    = 64 * 1024

	// Текст уведомления фиксирован: получатель узнаёт статус заявки из ответа API.
	proposalMessage = "Sua proposta de empréstimo foi processada!"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type notifyRequest struct {
	CPF       string `json:"cpf"`
	Message   string `json:"message"`
	Recipient string `json:"recipient"`
}

// NewClient создаёт HTTP-клиент сервиса уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Notify отправляет уведомление по заявке. Успехом считается любой
// HTTP-успешный ответ, тело ответа не анализируется.
func (c *Client) Notify(ctx context.Context, p *model.Proposal) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(notifyRequest{
		CPF:       p.CPF,
		Message:   proposalMessage,
		Recipient: p.PixKey,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+notifyPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body := string(raw)
		if body == "" {
			body = "unknown error or HTTP error from notification API"
		}
		return fmt.Errorf("failed to send notification: HTTP status %d, %s", resp.StatusCode, body)
	}

	return nil
}
