package sources

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"streamhub/internal/events"
	"streamhub/internal/identity"
)

var (
	ErrInvalidPayload = errors.New("invalid webhook payload")
	ErrBadToken       = errors.New("webhook verification token mismatch")
)

const maxWebhookBody = 64 << 10

var validate = validator.New()

// Donation is the provider payload. Form posts carry it JSON-encoded in the
// "data" field.
type Donation struct {
	Type              string `json:"type" validate:"required,max=32"`
	FromName          string `json:"from_name" validate:"required,max=64"`
	Amount            string `json:"amount" validate:"required,numeric"`
	Currency          string `json:"currency" validate:"omitempty,len=3"`
	Message           string `json:"message" validate:"max=1000"`
	VerificationToken string `json:"verification_token"`
	Timestamp         string `json:"timestamp"`
}

// Webhook decodes donation webhook requests into pipeline events.
type Webhook struct {
	now func() time.Time

	mu         sync.RWMutex
	token      string
	testSender string
	types      map[string]string
}

// NewWebhook builds a decoder. An empty token disables verification. types
// maps provider type names (case-insensitive) to event types; unmapped
// types become donations.
func NewWebhook(token, testSender string, types map[string]string) *Webhook {
	w := &Webhook{now: time.Now}
	w.Apply(token, testSender, types)
	return w
}

// Apply swaps the decoder settings.
func (w *Webhook) Apply(token, testSender string, types map[string]string) {
	m := make(map[string]string, len(types))
	for k, v := range types {
		m[strings.ToLower(strings.TrimSpace(k))] = v
	}
	w.mu.Lock()
	w.token, w.testSender, w.types = token, testSender, m
	w.mu.Unlock()
}

// DecodeRequest reads and decodes r. Errors wrap ErrInvalidPayload or
// ErrBadToken.
func (w *Webhook) DecodeRequest(r *http.Request) (events.RawEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return events.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return events.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		body = []byte(form.Get("data"))
	}
	return w.Decode(body)
}

// Decode parses a JSON donation payload.
func (w *Webhook) Decode(body []byte) (events.RawEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return events.RawEvent{}, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	var d Donation
	if err := json.Unmarshal(body, &d); err != nil {
		return events.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	d.FromName = strings.TrimSpace(d.FromName)
	if err := validate.Struct(d); err != nil {
		return events.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	w.mu.RLock()
	token, testSender := w.token, w.testSender
	mapped, ok := w.types[strings.ToLower(d.Type)]
	w.mu.RUnlock()
	if token != "" && d.VerificationToken != token {
		return events.RawEvent{}, ErrBadToken
	}
	amount, err := strconv.ParseFloat(d.Amount, 64)
	if err != nil || amount < 0 {
		return events.RawEvent{}, fmt.Errorf("%w: amount %q", ErrInvalidPayload, d.Amount)
	}

	typ := events.TypeDonation
	if ok && mapped != "" {
		typ = mapped
	}
	ts := w.now()
	if d.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, d.Timestamp); err == nil {
			ts = parsed
		}
	}
	return events.RawEvent{
		Type:      typ,
		User:      identity.Name(d.FromName),
		Count:     int64(math.Round(amount)),
		Text:      strings.TrimSpace(d.Message),
		Timestamp: ts,
		IsTest:    testSender != "" && strings.EqualFold(d.FromName, testSender),
		Sender:    d.FromName,
	}, nil
}
