// Package notification sends SMS messages to patients and clinical staff
// from named templates.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Template IDs used by the domain services.
const (
	TemplateHoldOverride        = "hold-override-review"
	TemplateAppointmentReminder = "appointment-reminder"
)

// Notification is a single outbound message and its delivery result.
type Notification struct {
	ID         string            `json:"id"`
	Recipient  string            `json:"recipient"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Data       map[string]string `json:"-"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a message body with {{key}} placeholders.
type Template struct {
	ID   string
	Body string
}

// TemplateEngine holds the registered message templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.Register(Template{
		ID: TemplateHoldOverride,
		Body: "Compliance hold {{hold_id}} for {{patient_name}} was overridden by {{overridden_by}} " +
			"({{override_type}}). Medical director review required by {{review_by}}.",
	})
	e.Register(Template{
		ID:   TemplateAppointmentReminder,
		Body: "Hi {{patient_name}}, this is a reminder of your appointment on {{date}} at {{time}}. Reply STOP to opt out.",
	})
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Placeholders without a value
// are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}
	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// Notifier renders templates and hands them to the SMS sender.
type Notifier struct {
	sender    SMSSender
	templates *TemplateEngine
	logger    zerolog.Logger
	sent      *prometheus.CounterVec
}

// NewNotifier builds a Notifier. reg may be nil.
func NewNotifier(sender SMSSender, templates *TemplateEngine, logger zerolog.Logger, reg prometheus.Registerer) *Notifier {
	n := &Notifier{
		sender:    sender,
		templates: templates,
		logger:    logger,
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emr",
			Name:      "sms_notifications_total",
			Help:      "SMS notifications by template and outcome.",
		}, []string{"template", "status"}),
	}
	if reg != nil {
		reg.MustRegister(n.sent)
	}
	return n
}

// Send renders templateID and delivers it to recipient. The returned
// Notification reflects the outcome even when err is non-nil.
func (n *Notifier) Send(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	body, err := n.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	msg := &Notification{
		ID:         uuid.NewString(),
		Recipient:  recipient,
		Body:       body,
		TemplateID: templateID,
		Data:       data,
		Status:     "pending",
		CreatedAt:  time.Now().UTC(),
	}
	if strings.TrimSpace(recipient) == "" {
		msg.Status = "failed"
		msg.Error = "no recipient phone number"
		n.sent.WithLabelValues(templateID, msg.Status).Inc()
		return msg, fmt.Errorf("send %s: no recipient phone number", templateID)
	}

	if err := n.sender.SendSMS(ctx, recipient, body); err != nil {
		msg.Status = "failed"
		msg.Error = err.Error()
		n.sent.WithLabelValues(templateID, msg.Status).Inc()
		return msg, fmt.Errorf("send %s: %w", templateID, err)
	}

	sentAt := time.Now().UTC()
	msg.Status = "sent"
	msg.SentAt = &sentAt
	n.sent.WithLabelValues(templateID, msg.Status).Inc()
	n.logger.Info().
		Str("notification_id", msg.ID).
		Str("template", templateID).
		Msg("sms sent")
	return msg, nil
}
