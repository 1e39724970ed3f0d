// Package channel connects the WhatsApp Business Cloud API to the message
// bus: webhook verification and signature checks on the way in, the send API
// on the way out.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mamabot/internal/config"
	"mamabot/internal/domain"
)

const defaultAPIBase = "https://graph.facebook.com/v21.0"

// WhatsApp is the inbound webhook handler and outbound sender.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	apiBase string
	bus     domain.MessageBus
	logger  *slog.Logger
	client  *http.Client
	mux     *http.ServeMux
}

func NewWhatsApp(cfg config.WhatsAppConfig, logger *slog.Logger) *WhatsApp {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &WhatsApp{
		cfg:     cfg,
		apiBase: apiBase,
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Start wires the channel to the bus: outbound messages go to the send API,
// webhook deliveries get published inbound.
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	bus.OnOutbound(func(msg domain.OutboundMessage) {
		if err := w.sendMessage(ctx, msg.RecipientID, msg.Content); err != nil {
			w.logger.Error("whatsapp send failed", "recipient", msg.RecipientID, "error", err)
			return
		}
		w.logger.Debug("whatsapp message sent", "recipient", msg.RecipientID, "len", len(msg.Content))
	})

	w.mux = http.NewServeMux()
	webhookPath := w.cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}

	w.mux.HandleFunc("GET "+webhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+webhookPath, w.handleIncoming)

	w.logger.Info("whatsapp channel ready", "webhook", webhookPath)
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

// Handler returns the webhook handler to mount on the main mux.
func (w *WhatsApp) Handler() http.Handler {
	if w.mux == nil {
		return http.NotFoundHandler()
	}
	return w.mux
}

// --- Webhook handlers ---

// handleVerification answers the Cloud API subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming validates and publishes webhook deliveries. The delivery is
// acknowledged as soon as the payload is on the bus; duplicate suppression
// happens downstream.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "error", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}

				// Contacts carry the canonical wa_id; fall back to the
				// sender phone number when absent.
				senderID := msg.From
				if len(change.Value.Contacts) > 0 && change.Value.Contacts[0].WaID != "" {
					senderID = change.Value.Contacts[0].WaID
				}

				w.logger.Info("whatsapp message received",
					"from", senderID, "message_id", msg.ID, "text_len", len(msg.Text.Body))

				w.bus.Publish(domain.InboundMessage{
					MessageID:   msg.ID,
					SenderID:    senderID,
					PhoneNumber: msg.From,
					Content:     msg.Text.Body,
					Timestamp:   time.Now(),
				})

				go w.markAsRead(context.Background(), msg.ID)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// --- Send API ---

// sendMessage sends a text message via the Cloud API with bounded retries.
func (w *WhatsApp) sendMessage(ctx context.Context, to string, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": text},
	}
	return w.post(ctx, payload)
}

// markAsRead flags a delivered message as read. Best effort.
func (w *WhatsApp) markAsRead(ctx context.Context, messageID string) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	if err := w.post(ctx, payload); err != nil {
		w.logger.Warn("whatsapp mark-as-read failed", "message_id", messageID, "error", err)
	}
}

const sendRetries = 2

func (w *WhatsApp) post(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= sendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		func() {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
				lastErr = nil
				return
			}
			respBody, _ := io.ReadAll(resp.Body)
			lastErr = fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
		}()
		if lastErr == nil {
			return nil
		}
		// 4xx other than 429 will not improve with retries.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
	}
	return lastErr
}

// --- Webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From string  `json:"from"`
	ID   string  `json:"id"`
	Type string  `json:"type"`
	Text *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
