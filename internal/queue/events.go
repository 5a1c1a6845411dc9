package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/bountyboard/bountyd/internal/metrics"
)

const (
	TopicBountyCreated   = "bounties.created.v1"
	TopicBountyCompleted = "bounties.completed.v1"
)

type BountyCreatedEvent struct {
	Version    string `json:"version"`
	BountyID   string `json:"bountyId"`
	Creator    string `json:"creator"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	ChainID    uint64 `json:"chainId"`
	OccurredAt string `json:"occurredAt"`
}

type BountyCompletedEvent struct {
	Version      string `json:"version"`
	BountyID     string `json:"bountyId"`
	SubmissionID int64  `json:"submissionId"`
	TxHash       string `json:"txHash"`
	TokenType    string `json:"tokenType"`
	Winner       string `json:"winner"`
	OccurredAt   string `json:"occurredAt"`
}

// Events publishes bounty lifecycle events on a Producer.
type Events struct {
	p       Producer
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewEvents(p Producer, now func() time.Time) (*Events, error) {
	if p == nil {
		return nil, errors.New("queue: nil producer")
	}
	if now == nil {
		now = time.Now
	}
	return &Events{p: p, now: now}, nil
}

// WithMetrics counts every publish attempt by topic and result.
func (e *Events) WithMetrics(m *metrics.Metrics) *Events {
	e.metrics = m
	return e
}

func (e *Events) BountyCreated(ctx context.Context, b bounty.Bounty) error {
	id := strings.ToLower(b.ID.Hex())
	return e.publish(ctx, TopicBountyCreated, id, BountyCreatedEvent{
		Version:    TopicBountyCreated,
		BountyID:   id,
		Creator:    b.Creator.Hex(),
		Token:      b.Token,
		Amount:     b.Amount.String(),
		ChainID:    b.ChainID,
		OccurredAt: e.now().UTC().Format(time.RFC3339Nano),
	})
}

func (e *Events) BountyCompleted(ctx context.Context, c bounty.Completion) error {
	id := strings.ToLower(c.BountyID.Hex())
	return e.publish(ctx, TopicBountyCompleted, id, BountyCompletedEvent{
		Version:      TopicBountyCompleted,
		BountyID:     id,
		SubmissionID: c.SubmissionID,
		TxHash:       strings.ToLower(c.Hash.Hex()),
		TokenType:    c.TokenType,
		Winner:       c.Winner.Hex(),
		OccurredAt:   e.now().UTC().Format(time.RFC3339Nano),
	})
}

func (e *Events) publish(ctx context.Context, topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: marshal %s: %w", topic, err)
	}
	err = e.p.Publish(ctx, topic, []byte(key), payload)
	e.metrics.ObserveEvent(topic, err)
	if err != nil {
		return fmt.Errorf("queue: publish %s: %w", topic, err)
	}
	return nil
}
