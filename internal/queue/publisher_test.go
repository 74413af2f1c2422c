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

package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/leads/internal/models"
)

// TestPublishLeadEvent verifies the Celery envelope and the embedded event.
func TestPublishLeadEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewPublisher(rdb, "lead_events")
	lead := &models.Lead{
		Domain:    "example.com",
		FirstSeen: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:  time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Sources:   []models.Platform{models.PlatformGoogleAds},
	}
	ev := NewEvent(EventLeadCreated, lead)

	if err := p.PublishLeadEvent(context.Background(), ev); err != nil {
		t.Fatalf("PublishLeadEvent: %v", err)
	}

	items, err := mr.List("lead_events")
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue length = %d, want 1", len(items))
	}

	var msg celeryMessage
	if err := json.Unmarshal([]byte(items[0]), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Headers["task"] != taskName || msg.Headers["id"] != ev.ID {
		t.Errorf("headers = %v", msg.Headers)
	}

	var task celeryTask
	if err := json.Unmarshal([]byte(msg.Body), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.ID != ev.ID || len(task.Args) != 1 {
		t.Fatalf("task = %+v", task)
	}

	var got Event
	if err := json.Unmarshal([]byte(task.Args[0].(string)), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.Type != EventLeadCreated || got.Domain != "example.com" || got.Lead == nil {
		t.Errorf("event = %+v", got)
	}
}

// TestPublishLeadEvent_AssignsID verifies events without an ID get one.
func TestPublishLeadEvent_AssignsID(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewPublisher(rdb, "q")
	if err := p.PublishLeadEvent(context.Background(), Event{Type: EventLeadUpdated, Domain: "a.com"}); err != nil {
		t.Fatalf("PublishLeadEvent: %v", err)
	}
	items, _ := mr.List("q")
	var msg celeryMessage
	json.Unmarshal([]byte(items[0]), &msg)
	if id, _ := msg.Headers["id"].(string); id == "" {
		t.Error("expected a generated event ID")
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
