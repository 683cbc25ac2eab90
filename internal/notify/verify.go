package notify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoPendingVerification  = errors.New("no pending verification for channel")
	ErrCodeExpired            = errors.New("verification code expired")
	ErrCodeMismatch           = errors.New("verification code does not match")
	ErrTooManyAttempts        = errors.New("too many verification attempts")
	ErrVerificationInProgress = errors.New("verification already in progress for channel")
)

// Verification proves a caller controls a channel's webhook by sending a
// one-time code to it.
type Verification struct {
	channels    *Channels
	sender      *Sender
	locker      *ratelimit.Locker
	clock       clock.Clock
	expiry      time.Duration
	maxAttempts int
	cost        int
	log         *zap.Logger
}

type VerificationOptions struct {
	Expiry      time.Duration
	MaxAttempts int
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

func NewVerification(channels *Channels, sender *Sender, locker *ratelimit.Locker, clk clock.Clock, opts VerificationOptions, log *zap.Logger) *Verification {
	if opts.Expiry <= 0 {
		opts.Expiry = 15 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verification{
		channels:    channels,
		sender:      sender,
		locker:      locker,
		clock:       clk,
		expiry:      opts.Expiry,
		maxAttempts: opts.MaxAttempts,
		cost:        opts.BcryptCost,
		log:         log.Named("verification"),
	}
}

// Initiate sends a fresh code to the channel webhook, replacing any
// earlier one. Only the bcrypt hash of the code is stored.
func (v *Verification) Initiate(ctx context.Context, appCode, alertType, requestedBy string) (Pending, Delivery, error) {
	ch, err := v.channels.Get(ctx, appCode, alertType)
	if err != nil {
		return Pending{}, Delivery{}, err
	}
	code, err := newCode()
	if err != nil {
		return Pending{}, Delivery{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), v.cost)
	if err != nil {
		return Pending{}, Delivery{}, fmt.Errorf("hash verification code: %w", err)
	}

	p := Pending{
		ChannelID:   ch.ID(),
		CodeHash:    string(hash),
		RequestedBy: requestedBy,
		ExpiresAt:   v.clock.Now().UTC().Add(v.expiry),
	}
	d, err := v.sender.Send(ctx, "verification", ch.WebhookURL, VerificationCard(ch.AppCode, ch.AlertType, code, v.expiry))
	if err != nil {
		return Pending{}, d, err
	}
	if err := v.channels.SavePending(ctx, p); err != nil {
		return Pending{}, d, err
	}
	v.log.Info("verification.sent", zap.String("channel_id", p.ChannelID), zap.Time("expires_at", p.ExpiresAt))
	return p, d, nil
}

// Confirm checks code against the pending verification and marks the
// channel verified. Confirmations for one channel are serialized.
func (v *Verification) Confirm(ctx context.Context, appCode, alertType, code, confirmedBy string) (Channel, error) {
	ch, err := v.channels.Get(ctx, appCode, alertType)
	if err != nil {
		return Channel{}, err
	}

	lockKey := "notify:verify:" + ch.ID()
	token, ok, err := v.locker.TryLock(ctx, lockKey, 30*time.Second)
	if err != nil {
		return Channel{}, err
	}
	if !ok {
		return Channel{}, ErrVerificationInProgress
	}
	defer func() { _ = v.locker.Release(context.WithoutCancel(ctx), lockKey, token) }()

	p, err := v.channels.GetPending(ctx, ch.ID())
	if errors.Is(err, docstore.ErrNotFound) {
		return Channel{}, ErrNoPendingVerification
	}
	if err != nil {
		return Channel{}, err
	}
	now := v.clock.Now().UTC()
	if !now.Before(p.ExpiresAt) {
		_ = v.channels.DeletePending(ctx, ch.ID())
		return Channel{}, ErrCodeExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(p.CodeHash), []byte(code)) != nil {
		attempts := p.Attempts + 1
		if attempts >= v.maxAttempts {
			_ = v.channels.DeletePending(ctx, ch.ID())
			v.log.Warn("verification.locked_out", zap.String("channel_id", ch.ID()), zap.Int("attempts", attempts))
			return Channel{}, ErrTooManyAttempts
		}
		if err := v.channels.RecordAttempt(ctx, ch.ID(), attempts); err != nil {
			return Channel{}, err
		}
		return Channel{}, ErrCodeMismatch
	}

	verified, err := v.channels.MarkVerified(ctx, ch, confirmedBy, now)
	if err != nil {
		return Channel{}, err
	}
	v.log.Info("verification.confirmed", zap.String("channel_id", ch.ID()), zap.String("by", confirmedBy))
	return verified, nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
