// Package authorize предоставляет клиент внешнего сервиса авторизации кредитных заявок.
package authorize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avasiliev/proposal-system/internal/model"
)

const (
	authorizePath = "/api/v2/authorize"
	// Внешний сервис нестабилен: короткий таймаут, повторы выполняет планировщик.
	requestTimeout = 5 * time.Second
	maxBodySize    = 64 * 1024
)

// Client инкапсулирует HTTP-взаимодействие с сервисом авторизации.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type authorizeRequest struct {
	CPF        string          `json:"cpf"`
	Name       string          `json:"name"`
	BirthDate  string          `json:"birth_date"`
	LoanAmount decimal.Decimal `json:"loan_amount"`
	PixKey     string          `json:"pix_key"`
}

type authorizeResponse struct {
	Status string `json:"status"`
	Data   struct {
		Authorization bool `json:"authorization"`
	} `json:"data"`
}

// NewClient создаёт HTTP-клиент сервиса авторизации по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Authorize запрашивает авторизацию заявки и возвращает nil только при строгом
// подтверждении: HTTP-успех, status == "success" и data.authorization == true.
// Любой другой исход возвращается как ошибка с диагностикой для повторной попытки.
func (c *Client) Authorize(ctx context.Context, p *model.Proposal) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("authorize client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(authorizeRequest{
		CPF:        p.CPF,
		Name:       p.Name,
		BirthDate:  p.BirthDate.Format("2006-01-02"),
		LoanAmount: p.LoanAmount,
		PixKey:     p.PixKey,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+authorizePath, bytes.NewReader(payload))
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
		return fmt.Errorf("authorization API: HTTP status %d, body: %s", resp.StatusCode, bodyText(raw))
	}

	var parsed authorizeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("authorization API: HTTP status %d, unrecognized body: %s", resp.StatusCode, bodyText(raw))
	}

	if parsed.Status != "success" || !parsed.Data.Authorization {
		return fmt.Errorf("authorization denied or unexpected response: HTTP status %d, body: %s", resp.StatusCode, bodyText(raw))
	}

	return nil
}

func bodyText(raw []byte) string {
	if len(raw) == 0 {
		return "empty body"
	}
	return string(raw)
}
