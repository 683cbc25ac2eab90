package domain

import (
	"context"
	"errors"
	"time"
)

// Entry is one audit event. Secrets are stored masked.
type Entry struct {
	Action     string
	ActorType  string
	ActorID    string
	TargetType string
	TargetID   string
	Outcome    string
	Metadata   map[string]any
	Secrets    map[string]any
}

// Record is the stored shape of an Entry.
type Record struct {
	ID         string         `firestore:"id" json:"id"`
	Action     string         `firestore:"action" json:"action"`
	ActorType  string         `firestore:"actor_type" json:"actor_type"`
	ActorID    string         `firestore:"actor_id" json:"actor_id"`
	TargetType string         `firestore:"target_type" json:"target_type"`
	TargetID   string         `firestore:"target_id" json:"target_id"`
	Outcome    string         `firestore:"outcome" json:"outcome"`
	RequestID  string         `firestore:"request_id" json:"request_id"`
	Metadata   map[string]any `firestore:"metadata" json:"metadata"`
	CreatedAt  time.Time      `firestore:"created_at" json:"created_at"`
}

type Service interface {
	AuditLog(ctx context.Context, entry Entry) (Record, error)
}

var ErrInvalidAction = errors.New("invalid_action")
