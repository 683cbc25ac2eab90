package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/cloudcost/internal/docstore"
)

var (
	ErrInvalidChannelKey  = errors.New("app_code and alert_type must be 1-100 characters without hyphens")
	ErrChannelNotVerified = errors.New("channel is not verified")
)

// Channel is a registered webhook for one app and alert type.
type Channel struct {
	AppCode      string
	AlertType    string
	WebhookURL   string
	Verified     bool
	UpdatedBy    string
	CreatedAt    time.Time
	LastModified time.Time
	VerifiedAt   time.Time
}

func (c Channel) ID() string { return ChannelID(c.AppCode, c.AlertType) }

// ChannelID joins the key with a hyphen, which is why neither part may
// contain one.
func ChannelID(appCode, alertType string) string {
	return strings.TrimSpace(appCode) + "-" + strings.TrimSpace(alertType)
}

func ValidateChannelKey(appCode, alertType string) error {
	for _, v := range []string{strings.TrimSpace(appCode), strings.TrimSpace(alertType)} {
		if v == "" || len(v) > 100 || strings.Contains(v, "-") || strings.Contains(v, "/") {
			return ErrInvalidChannelKey
		}
	}
	return nil
}

// Pending is an outstanding verification code for a channel.
type Pending struct {
	ChannelID   string
	CodeHash    string
	RequestedBy string
	ExpiresAt   time.Time
	Attempts    int
}

// Channels persists channels and their pending verifications. Pending
// entries live in a sibling collection suffixed "-pending".
type Channels struct {
	store      docstore.Store
	collection string
}

func NewChannels(store docstore.Store, collection string) *Channels {
	return &Channels{store: store, collection: collection}
}

func (c *Channels) pendingCollection() string { return c.collection + "-pending" }

func (c *Channels) Get(ctx context.Context, appCode, alertType string) (Channel, error) {
	if err := ValidateChannelKey(appCode, alertType); err != nil {
		return Channel{}, err
	}
	doc, err := c.store.Get(ctx, c.collection, ChannelID(appCode, alertType))
	if err != nil {
		return Channel{}, err
	}
	return channelFrom(doc.Data), nil
}

func (c *Channels) List(ctx context.Context) ([]Channel, error) {
	var out []Channel
	for doc, err := range c.store.Documents(ctx, c.collection) {
		if err != nil {
			return nil, err
		}
		out = append(out, channelFrom(doc.Data))
	}
	return out, nil
}

func (c *Channels) Save(ctx context.Context, ch Channel) error {
	return c.store.Set(ctx, c.collection, ch.ID(), channelFields(ch), false)
}

// Delete removes the channel and any pending verification.
func (c *Channels) Delete(ctx context.Context, appCode, alertType string) error {
	if _, err := c.Get(ctx, appCode, alertType); err != nil {
		return err
	}
	id := ChannelID(appCode, alertType)
	return c.store.Commit(ctx, []docstore.Write{
		{Collection: c.collection, DocumentID: id, Delete: true},
		{Collection: c.pendingCollection(), DocumentID: id, Delete: true},
	})
}

func (c *Channels) SavePending(ctx context.Context, p Pending) error {
	return c.store.Set(ctx, c.pendingCollection(), p.ChannelID, map[string]any{
		"channel_id":   p.ChannelID,
		"code_hash":    p.CodeHash,
		"requested_by": p.RequestedBy,
		"expires_at":   p.ExpiresAt,
		"attempts":     int64(p.Attempts),
		"status":       "pending",
	}, false)
}

func (c *Channels) GetPending(ctx context.Context, channelID string) (Pending, error) {
	doc, err := c.store.Get(ctx, c.pendingCollection(), channelID)
	if err != nil {
		return Pending{}, err
	}
	return Pending{
		ChannelID:   channelID,
		CodeHash:    stringField(doc.Data, "code_hash"),
		RequestedBy: stringField(doc.Data, "requested_by"),
		ExpiresAt:   timeField(doc.Data, "expires_at"),
		Attempts:    int(intField(doc.Data, "attempts")),
	}, nil
}

func (c *Channels) RecordAttempt(ctx context.Context, channelID string, attempts int) error {
	return c.store.Set(ctx, c.pendingCollection(), channelID, map[string]any{"attempts": int64(attempts)}, true)
}

func (c *Channels) DeletePending(ctx context.Context, channelID string) error {
	return c.store.Commit(ctx, []docstore.Write{{Collection: c.pendingCollection(), DocumentID: channelID, Delete: true}})
}

// MarkVerified flips the channel to verified and drops the pending code in
// one commit.
func (c *Channels) MarkVerified(ctx context.Context, ch Channel, by string, at time.Time) (Channel, error) {
	ch.Verified = true
	ch.VerifiedAt = at
	ch.LastModified = at
	ch.UpdatedBy = by
	err := c.store.Commit(ctx, []docstore.Write{
		{Collection: c.collection, DocumentID: ch.ID(), Data: channelFields(ch)},
		{Collection: c.pendingCollection(), DocumentID: ch.ID(), Delete: true},
	})
	if err != nil {
		return Channel{}, fmt.Errorf("mark %s verified: %w", ch.ID(), err)
	}
	return ch, nil
}

func channelFields(ch Channel) map[string]any {
	fields := map[string]any{
		"app_code":      ch.AppCode,
		"alert_type":    ch.AlertType,
		"webhook_url":   ch.WebhookURL,
		"verified":      ch.Verified,
		"updated_by":    ch.UpdatedBy,
		"created_at":    ch.CreatedAt,
		"last_modified": ch.LastModified,
	}
	if !ch.VerifiedAt.IsZero() {
		fields["verified_at"] = ch.VerifiedAt
	}
	return fields
}

func channelFrom(data map[string]any) Channel {
	verified, _ := data["verified"].(bool)
	return Channel{
		AppCode:      stringField(data, "app_code"),
		AlertType:    stringField(data, "alert_type"),
		WebhookURL:   stringField(data, "webhook_url"),
		Verified:     verified,
		UpdatedBy:    stringField(data, "updated_by"),
		CreatedAt:    timeField(data, "created_at"),
		LastModified: timeField(data, "last_modified"),
		VerifiedAt:   timeField(data, "verified_at"),
	}
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func timeField(data map[string]any, key string) time.Time {
	switch v := data[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	default:
		return time.Time{}
	}
}

func intField(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
