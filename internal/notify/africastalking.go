package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAfricasTalkingURL is the production messaging endpoint.
const DefaultAfricasTalkingURL = "https://api.africastalking.com/version1/messaging"

// AfricasTalkingConfig configures the SMS gateway.
type AfricasTalkingConfig struct {
	APIKey   string
	Username string
	Sender   string
	URL      string
}

// AfricasTalking sends SMS through the Africa's Talking messaging API.
type AfricasTalking struct {
	cfg    AfricasTalkingConfig
	client *http.Client
}

// NewAfricasTalking constructs the SMS transport. A nil client uses a 30s timeout client.
func NewAfricasTalking(cfg AfricasTalkingConfig, client *http.Client) *AfricasTalking {
	if cfg.URL == "" {
		cfg.URL = DefaultAfricasTalkingURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AfricasTalking{cfg: cfg, client: client}
}

// IsConfigured implements Transport.
func (a *AfricasTalking) IsConfigured() bool {
	return a.cfg.APIKey != "" && a.cfg.Username != ""
}

type atResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
			Number     string `json:"number"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send implements Transport.
func (a *AfricasTalking) Send(ctx context.Context, recipient, message string, _ Meta) error {
	if !a.IsConfigured() {
		return ErrNotConfigured
	}
	form := url.Values{}
	form.Set("username", a.cfg.Username)
	form.Set("to", ToInternational(recipient, ""))
	form.Set("message", message)
	if a.cfg.Sender != "" {
		form.Set("from", a.cfg.Sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("apiKey", a.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("africastalking: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("africastalking: read body: %w", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("africastalking: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("africastalking: status %d: %w", resp.StatusCode, ErrPermanent)
	}

	var out atResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("africastalking: decode: %w", err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("africastalking: no recipients accepted: %s", out.SMSMessageData.Message)
	}
	if st := out.SMSMessageData.Recipients[0].Status; st != "Success" {
		return fmt.Errorf("africastalking: recipient status %q", st)
	}
	return nil
}
