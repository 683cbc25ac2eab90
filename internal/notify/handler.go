package notify

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/cloudcost/internal/audit/domain"
	"github.com/smallbiznis/cloudcost/internal/audit/masking"
	"github.com/smallbiznis/cloudcost/internal/authorization"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pubsub"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"github.com/smallbiznis/cloudcost/internal/server"
	"go.uber.org/zap"
)

type MessageRequest struct {
	WebhookURL string            `json:"webhook_url" binding:"required,url"`
	Message    string            `json:"message" binding:"required,max=10000"`
	Title      string            `json:"title" binding:"max=256"`
	Color      string            `json:"color"`
	Facts      map[string]string `json:"facts"`
}

// NotifyRequest addresses a registered channel instead of a raw webhook.
type NotifyRequest struct {
	AppCode   string            `json:"app_code" binding:"required,max=100"`
	AlertType string            `json:"alert_type" binding:"required,max=100"`
	Message   string            `json:"message" binding:"required,max=10000"`
	Title     string            `json:"title" binding:"max=256"`
	Color     string            `json:"color"`
	Facts     map[string]string `json:"facts"`
}

type ChannelRequest struct {
	AppCode    string `json:"app_code" binding:"required,max=100"`
	AlertType  string `json:"alert_type" binding:"required,max=100"`
	WebhookURL string `json:"webhook_url" binding:"required,url"`
}

type ConfirmRequest struct {
	Code string `json:"verification_code" binding:"required,len=6,numeric"`
}

type ChannelResponse struct {
	AppCode      string     `json:"app_code"`
	AlertType    string     `json:"alert_type"`
	WebhookURL   string     `json:"webhook_url"`
	Verified     bool       `json:"verified"`
	UpdatedBy    string     `json:"updated_by"`
	CreatedAt    time.Time  `json:"created_at"`
	LastModified time.Time  `json:"last_modified"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

func channelResponse(ch Channel) ChannelResponse {
	resp := ChannelResponse{
		AppCode:      ch.AppCode,
		AlertType:    ch.AlertType,
		WebhookURL:   masking.MaskURL(ch.WebhookURL),
		Verified:     ch.Verified,
		UpdatedBy:    ch.UpdatedBy,
		CreatedAt:    ch.CreatedAt,
		LastModified: ch.LastModified,
	}
	if !ch.VerifiedAt.IsZero() {
		at := ch.VerifiedAt
		resp.VerifiedAt = &at
	}
	return resp
}

type Handler struct {
	channels     *Channels
	sender       *Sender
	verification *Verification
	audit        auditdomain.Service
	guard        *authorization.Guard
	clock        clock.Clock
	log          *zap.Logger
}

type HandlerParams struct {
	Channels     *Channels
	Sender       *Sender
	Verification *Verification
	Audit        auditdomain.Service
	Guard        *authorization.Guard
	Clock        clock.Clock
	Log          *zap.Logger
}

func NewHandler(p HandlerParams) *Handler {
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	return &Handler{
		channels:     p.Channels,
		sender:       p.Sender,
		verification: p.Verification,
		audit:        p.Audit,
		guard:        p.Guard,
		clock:        p.Clock,
		log:          p.Log.Named("notify"),
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.Health)
	r.GET("/health", h.Health)

	guard := h.authorize()
	r.POST("/pubsub/push", guard, h.PubSubPush)

	api := r.Group("/api/v1", guard)
	api.POST("/messages", h.PostMessage)
	api.POST("/notify", h.Notify)
	api.POST("/channels", h.SaveChannel)
	api.GET("/channels", h.ListChannels)
	api.GET("/channels/:app_code/:alert_type", h.GetChannel)
	api.DELETE("/channels/:app_code/:alert_type", h.DeleteChannel)
	api.POST("/channels/:app_code/:alert_type/verify", h.InitiateVerification)
	api.POST("/channels/:app_code/:alert_type/confirm", h.ConfirmVerification)
}

func (h *Handler) authorize() gin.HandlerFunc {
	if h.guard == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h.guard.Middleware()
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   ServiceName,
		"version":   Version,
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// PostMessage sends a card straight to the webhook in the request.
func (h *Handler) PostMessage(c *gin.Context) {
	var req MessageRequest
	if err := server.BindJSON(c, &req); err != nil {
		server.AbortWithError(c, err)
		return
	}
	card, err := buildCard(req.Title, req.Message, req.Color, req.Facts)
	if err != nil {
		server.AbortWithError(c, err)
		return
	}

	d, err := h.deliver(c, "api", "", req.WebhookURL, card)
	if err != nil {
		server.AbortWithError(c, h.httpError(c, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "Message posted successfully to Teams channel",
		"timestamp":   h.clock.Now().UTC().Format(time.RFC3339),
		"webhook_url": masking.MaskURL(req.WebhookURL),
		"attempts":    d.Attempts,
	})
}

// Notify sends a card to a verified channel.
func (h *Handler) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := server.BindJSON(c, &req); err != nil {
		server.AbortWithError(c, err)
		return
	}
	ch, d, err := h.notifyChannel(c, "api", req)
	if err != nil {
		server.AbortWithError(c, h.httpError(c, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"channel_id": ch.ID(),
		"timestamp":  h.clock.Now().UTC().Format(time.RFC3339),
		"attempts":   d.Attempts,
	})
}

// PubSubPush delivers a NotifyRequest carried in a push message. Messages
// that can never be delivered are acknowledged with a status; transient
// failures return 5xx or 429 so Pub/Sub redelivers.
func (h *Handler) PubSubPush(c *gin.Context) {
	var envelope pubsub.PushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		server.AbortWithError(c, server.InvalidRequest())
		return
	}
	var req NotifyRequest
	if err := envelope.Decode(&req); err != nil {
		h.log.Warn("notify.push_rejected", zap.String("message_id", envelope.MessageID()), zap.Error(err))
		server.AbortWithError(c, server.NewValidationError("message.data", "invalid_message", err.Error()))
		return
	}
	if err := server.Validate(&req); err != nil {
		server.AbortWithError(c, err)
		return
	}

	ch, _, err := h.notifyChannel(c, "pubsub", req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "delivered", "channel_id": ch.ID(), "message_id": envelope.MessageID()})
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, ErrChannelNotVerified), errors.Is(err, ErrInvalidChannelKey):
		h.log.Warn("notify.push_skipped", zap.String("message_id", envelope.MessageID()), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "reason": err.Error(), "message_id": envelope.MessageID()})
	case permanent(err):
		c.JSON(http.StatusOK, gin.H{"status": "failed", "reason": err.Error(), "message_id": envelope.MessageID()})
	default:
		server.AbortWithError(c, h.httpError(c, err))
	}
}

func (h *Handler) notifyChannel(c *gin.Context, source string, req NotifyRequest) (Channel, Delivery, error) {
	card, err := buildCard(req.Title, req.Message, req.Color, req.Facts)
	if err != nil {
		return Channel{}, Delivery{}, err
	}
	ch, err := h.channels.Get(c.Request.Context(), req.AppCode, req.AlertType)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			h.record(c, "notification.skipped", ChannelID(req.AppCode, req.AlertType), "", "not_found", nil)
		}
		return Channel{}, Delivery{}, err
	}
	if !ch.Verified {
		h.record(c, "notification.skipped", ch.ID(), ch.WebhookURL, "not_verified", nil)
		return ch, Delivery{}, ErrChannelNotVerified
	}
	d, err := h.deliver(c, source, ch.ID(), ch.WebhookURL, card)
	return ch, d, err
}

// deliver sends card and appends an audit event either way.
func (h *Handler) deliver(c *gin.Context, source, channelID, url string, card MessageCard) (Delivery, error) {
	d, err := h.sender.Send(c.Request.Context(), source, url, card)
	meta := map[string]any{
		"source":      source,
		"attempts":    d.Attempts,
		"status_code": d.StatusCode,
		"duration_ms": d.Duration.Milliseconds(),
	}
	if err != nil {
		meta["error"] = err.Error()
		h.record(c, "notification.failed", channelID, url, outcome(err), meta)
		return d, err
	}
	h.record(c, "notification.delivered", channelID, url, "delivered", meta)
	return d, nil
}

func (h *Handler) record(c *gin.Context, action, channelID, url, result string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	target := channelID
	if target == "" {
		target = WebhookKey(url)
	}
	entry := auditdomain.Entry{
		Action:     action,
		ActorType:  "user",
		ActorID:    authorization.Email(c),
		TargetType: "channel",
		TargetID:   target,
		Outcome:    result,
		Metadata:   meta,
	}
	if url != "" {
		entry.Secrets = map[string]any{"webhook_url": url}
	}
	if _, err := h.audit.AuditLog(c.Request.Context(), entry); err != nil {
		h.log.Warn("notify.audit_failed", zap.String("action", action), zap.Error(err))
	}
}

// SaveChannel creates or replaces a channel. Changing the webhook URL
// clears the verified flag.
func (h *Handler) SaveChannel(c *gin.Context) {
	var req ChannelRequest
	if err := server.BindJSON(c, &req); err != nil {
		server.AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	now := h.clock.Now().UTC()

	existing, err := h.channels.Get(ctx, req.AppCode, req.AlertType)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		server.AbortWithError(c, h.httpError(c, err))
		return
	}
	created := errors.Is(err, docstore.ErrNotFound)

	ch := Channel{
		AppCode:      strings.TrimSpace(req.AppCode),
		AlertType:    strings.TrimSpace(req.AlertType),
		WebhookURL:   strings.TrimSpace(req.WebhookURL),
		UpdatedBy:    authorization.Email(c),
		CreatedAt:    now,
		LastModified: now,
	}
	if !created {
		ch.CreatedAt = existing.CreatedAt
		if existing.WebhookURL == ch.WebhookURL {
			ch.Verified = existing.Verified
			ch.VerifiedAt = existing.VerifiedAt
		}
	}
	if err := h.channels.Save(ctx, ch); err != nil {
		server.AbortWithError(c, err)
		return
	}
	h.record(c, "channel.saved", ch.ID(), ch.WebhookURL, "saved", map[string]any{"created": created, "verified": ch.Verified})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"channel": channelResponse(ch)})
}

func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.channels.List(c.Request.Context())
	if err != nil {
		server.AbortWithError(c, err)
		return
	}
	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelResponse(ch))
	}
	c.JSON(http.StatusOK, gin.H{"channels": out, "count": len(out)})
}

func (h *Handler) GetChannel(c *gin.Context) {
	ch, err := h.channels.Get(c.Request.Context(), c.Param("app_code"), c.Param("alert_type"))
	if err != nil {
		server.AbortWithError(c, h.httpError(c, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channelResponse(ch)})
}

func (h *Handler) DeleteChannel(c *gin.Context) {
	appCode, alertType := c.Param("app_code"), c.Param("alert_type")
	if err := h.channels.Delete(c.Request.Context(), appCode, alertType); err != nil {
		server.AbortWithError(c, h.httpError(c, err))
		return
	}
	h.record(c, "channel.deleted", ChannelID(appCode, alertType), "", "deleted", nil)
	c.Status(http.StatusNoContent)
}

// InitiateVerification sends a code to the channel's webhook. The code is
// never part of the response.
func (h *Handler) InitiateVerification(c *gin.Context) {
	p, d, err := h.verification.Initiate(c.Request.Context(), c.Param("app_code"), c.Param("alert_type"), authorization.Email(c))
	if err != nil {
		server.AbortWithError(c, h.httpError(c, err))
		return
	}
	h.record(c, "channel.verification_sent", p.ChannelID, "", "sent", map[string]any{"attempts": d.Attempts})
	c.JSON(http.StatusAccepted, gin.H{
		"channel_id": p.ChannelID,
		"status":     "pending",
		"expires_at": p.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) ConfirmVerification(c *gin.Context) {
	var req ConfirmRequest
	if err := server.BindJSON(c, &req); err != nil {
		server.AbortWithError(c, err)
		return
	}
	ch, err := h.verification.Confirm(c.Request.Context(), c.Param("app_code"), c.Param("alert_type"), req.Code, authorization.Email(c))
	if err != nil {
		h.record(c, "channel.verification_failed", ChannelID(c.Param("app_code"), c.Param("alert_type")), "", outcome(err), nil)
		server.AbortWithError(c, h.httpError(c, err))
		return
	}
	h.record(c, "channel.verified", ch.ID(), "", "verified", nil)
	c.JSON(http.StatusOK, gin.H{"channel": channelResponse(ch)})
}

func buildCard(title, message, color string, facts map[string]string) (MessageCard, error) {
	hex, err := NormalizeColor(color)
	if err != nil {
		return MessageCard{}, server.NewValidationError("color", "invalid_color", err.Error())
	}
	return NewMessageCard(title, message, hex, Facts(facts)), nil
}

// httpError maps delivery and verification failures onto API errors.
func (h *Handler) httpError(c *gin.Context, err error) error {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		return server.ErrRateLimited
	case errors.Is(err, ErrWebhookTimeout):
		return fmt.Errorf("%w: %v", server.ErrGatewayTimeout, err)
	case errors.Is(err, ErrWebhookRejected):
		return fmt.Errorf("%w: %v", server.ErrBadGateway, err)
	case errors.Is(err, ErrInvalidChannelKey):
		return server.NewValidationError("app_code", "invalid_channel_key", err.Error())
	case errors.Is(err, ErrChannelNotVerified), errors.Is(err, ErrVerificationInProgress):
		return fmt.Errorf("%w: %v", server.ErrConflict, err)
	case errors.Is(err, ErrNoPendingVerification):
		return server.ErrNotFound
	case errors.Is(err, ErrCodeExpired):
		return server.NewValidationError("verification_code", "expired", err.Error())
	case errors.Is(err, ErrCodeMismatch):
		return server.NewValidationError("verification_code", "invalid_code", err.Error())
	case errors.Is(err, ErrTooManyAttempts):
		return server.NewValidationError("verification_code", "too_many_attempts", err.Error())
	default:
		return err
	}
}

// permanent reports a webhook failure that redelivery will not fix.
func permanent(err error) bool {
	if !errors.Is(err, ErrWebhookRejected) {
		var v *server.ValidationErrors
		return errors.As(err, &v)
	}
	var status *retry.HTTPStatusError
	if errors.As(err, &status) {
		return !retry.RetryableStatus(status.StatusCode)
	}
	return !retry.IsTransient(err)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrWebhookTimeout):
		return "timeout"
	case errors.Is(err, ErrWebhookRejected):
		return "rejected"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrCodeMismatch):
		return "invalid_code"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	default:
		return "error"
	}
}
