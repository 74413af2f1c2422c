// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue publishes lead change events to a Redis list as
// Celery-compatible tasks, so downstream Python workers can consume them
// with `celery worker -Q <queue>`.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/leads/internal/models"
)

// EventType names what happened to a lead.
type EventType string

const (
	EventLeadCreated  EventType = "lead.created"
	EventLeadUpdated  EventType = "lead.updated"
	EventLeadEnriched EventType = "lead.enriched"
)

// taskName is the Celery task downstream workers register.
const taskName = "leads.tasks.handle_lead_event"

// Event is the payload of a published task.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Domain     models.CanonicalDomain `json:"domain"`
	OccurredAt time.Time              `json:"occurred_at"`
	Lead       *models.Lead           `json:"lead"`
}

// NewEvent stamps a new event for lead.
func NewEvent(typ EventType, lead *models.Lead) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		Domain:     lead.Domain,
		OccurredAt: time.Now().UTC(),
		Lead:       lead,
	}
}

// Publisher sends lead events to Redis in Celery task format.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

type celeryTask struct {
	ID      string  `json:"id"`
	Task    string  `json:"task"`
	Args    []any   `json:"args"`
	Kwargs  any     `json:"kwargs"`
	Retries int     `json:"retries"`
	ETA     *string `json:"eta"`
}

type celeryMessage struct {
	Body            string         `json:"body"`
	ContentEncoding string         `json:"content-encoding"`
	ContentType     string         `json:"content-type"`
	Headers         map[string]any `json:"headers"`
	Properties      map[string]any `json:"properties"`
}

// PublishLeadEvent pushes ev onto the queue. The task ID is the event ID.
func (p *Publisher) PublishLeadEvent(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lead event: %w", err)
	}

	taskBody, err := json.Marshal(celeryTask{
		ID:     ev.ID,
		Task:   taskName,
		Args:   []any{string(eventJSON)},
		Kwargs: map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("marshal celery task: %w", err)
	}

	msgJSON, err := json.Marshal(celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]any{
			"lang":    "py",
			"task":    taskName,
			"id":      ev.ID,
			"retries": 0,
		},
		Properties: map[string]any{
			"correlation_id": ev.ID,
			"delivery_mode":  2,
			"delivery_tag":   ev.ID,
			"body_encoding":  "utf-8",
			"delivery_info": map[string]string{
				"exchange":    p.queueName,
				"routing_key": p.queueName,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal celery message: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msgJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published lead event",
		"event_id", ev.ID,
		"type", ev.Type,
		"domain", ev.Domain,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
