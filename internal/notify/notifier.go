package notify

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"text/template"
	"time"
)

// Notification types.
const (
	TypeSyncFailure    = "SYNC_FAILURE"
	TypeMaintenanceDue = "MAINTENANCE_DUE"
	TypeRentalExpiring = "RENTAL_EXPIRING"
	TypeRentalExpired  = "RENTAL_EXPIRED"
	TypeServiceUpdate  = "SERVICE_UPDATE"
	TypeLowBattery     = "LOW_BATTERY"
)

// Priorities.
const (
	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// DeviceNotification is an operator-facing message about a device or an
// organization fleet.
type DeviceNotification struct {
	Type           string
	Priority       string
	OrganizationID string
	DeviceID       string
	Title          string
	Message        string
	OccurredAt     time.Time
}

// Notifier delivers device notifications. Delivery is best effort; callers do
// not block their workflow on notification failures.
type Notifier interface {
	Notify(ctx context.Context, notification DeviceNotification)
}

const DefaultTemplate = `[{{.Priority}}] {{.Title}}
Type: {{.Type}}
Organization: {{.OrganizationID}}
{{ if .DeviceID }}Device: {{.DeviceID}}
{{ end }}Time: {{.OccurredAt}}

{{.Message}}`

type templateData struct {
	Type           string
	Priority       string
	OrganizationID string
	DeviceID       string
	Title          string
	Message        string
	OccurredAt     string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("device-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to a notification.
func (t *Template) Render(notification DeviceNotification) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notify template: nil")
	}
	occurredAt := notification.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	var buf bytes.Buffer
	err := t.tpl.Execute(&buf, templateData{
		Type:           notification.Type,
		Priority:       notification.Priority,
		OrganizationID: notification.OrganizationID,
		DeviceID:       notification.DeviceID,
		Title:          notification.Title,
		Message:        notification.Message,
		OccurredAt:     occurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Clock provides time for dedupe bookkeeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type sendRecord struct {
	at   time.Time
	hash string
}

// ChannelNotifier renders notifications and sends them through a channel,
// suppressing repeats within a cooldown or dedupe window.
type ChannelNotifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	cooldown     time.Duration
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*ChannelNotifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *ChannelNotifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// device and type.
func WithCooldown(interval time.Duration) Option {
	return func(n *ChannelNotifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *ChannelNotifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewChannelNotifier constructs a channel-backed notifier.
func NewChannelNotifier(channel Channel, tpl *Template, opts ...Option) (*ChannelNotifier, error) {
	if channel == nil {
		return nil, errors.New("notify: nil channel")
	}
	if tpl == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		tpl = defaultTemplate
	}
	n := &ChannelNotifier{
		channel:  channel,
		template: tpl,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements Notifier.
func (n *ChannelNotifier) Notify(ctx context.Context, notification DeviceNotification) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(notification)
	if err != nil {
		return
	}
	key := notificationKey(notification)
	if !n.shouldSend(key, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(key, content)
}

func (n *ChannelNotifier) shouldSend(key, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *ChannelNotifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(notification DeviceNotification) string {
	return notification.OrganizationID + "|" + notification.DeviceID + "|" + notification.Type
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}
