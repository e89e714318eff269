package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
)

const defaultGatewayURL = "https://gate.whapi.example/v1/messages/text"

// WhatsAppClient — delivery gateway client. In dry-run mode no HTTP
// request is made; the outbound message is logged instead, which is the
// dev escape hatch now that responses never echo raw codes.
type WhatsAppClient struct {
	APIKey  string
	Sender  string
	BaseURL string
	DryRun  bool
}

type SendTextResponse struct {
	Code int `json:"code"`
	Data struct {
		MessageID string `json:"messageId"`
	} `json:"data"`
}

func NewWhatsAppClient(apiKey, sender, baseURL string, dryRun bool) *WhatsAppClient {
	if baseURL == "" {
		baseURL = defaultGatewayURL
	}
	return &WhatsAppClient{APIKey: apiKey, Sender: sender, BaseURL: baseURL, DryRun: dryRun}
}

// SendText — отправка сообщения через шлюз (или имитация в dry-run).
func (c *WhatsAppClient) SendText(to, text string) (*SendTextResponse, error) {
	if c.DryRun || c.APIKey == "" || c.APIKey == "dry-run" {
		log.Printf("[whatsapp][dry-run] to=%s sender=%q text=%q", to, c.Sender, text)
		return &SendTextResponse{Code: 0}, nil
	}

	form := url.Values{
		"apiKey":    {c.APIKey},
		"recipient": {to},
		"text":      {text},
	}
	if c.Sender != "" {
		form.Set("from", c.Sender)
	}

	resp, err := http.PostForm(c.BaseURL, form)
	if err != nil {
		return nil, fmt.Errorf("send whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var result SendTextResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse gateway response: %w", err)
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("gateway returned error code: %d", result.Code)
	}
	return &result, nil
}
