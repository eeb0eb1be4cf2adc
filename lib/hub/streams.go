// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stelliberty/hub/lib/frontend"
)

// Topics on the core's push API.
const (
	TrafficTopic = "/traffic"
	LogsTopic    = "/logs?level=info"
)

// defaultLogType is used for log entries that carry no type.
const defaultLogType = "info"

var errNoSubscriber = errors.New("subscriptions are not available")

type trafficSample struct {
	Up   uint64 `json:"up"`
	Down uint64 `json:"down"`
}

type logEntry struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func (r *Runtime) startTraffic(ctx context.Context) {
	r.startStream(ctx, TrafficTopic, &r.trafficID, func(message json.RawMessage) {
		var sample trafficSample
		if err := json.Unmarshal(message, &sample); err != nil {
			r.logger.Debug("ignoring malformed traffic sample", "error", err)
			return
		}
		r.send(frontend.Traffic{Upload: sample.Up, Download: sample.Down})
	})
}

func (r *Runtime) stopTraffic() {
	r.stopStream(TrafficTopic, &r.trafficID)
}

func (r *Runtime) startLogs(ctx context.Context) {
	r.startStream(ctx, LogsTopic, &r.logID, func(message json.RawMessage) {
		var entry logEntry
		if err := json.Unmarshal(message, &entry); err != nil {
			r.logger.Debug("ignoring malformed log entry", "error", err)
			return
		}
		if entry.Type == "" {
			entry.Type = defaultLogType
		}
		r.send(frontend.Log{LogType: entry.Type, Payload: entry.Payload})
	})
}

func (r *Runtime) stopLogs() {
	r.stopStream(LogsTopic, &r.logID)
}

// startStream subscribes to topic and records the new id in *tracked.
// A previously tracked id is overwritten, not disconnected.
func (r *Runtime) startStream(ctx context.Context, topic string, tracked *uint32, onMessage func(json.RawMessage)) {
	if r.subscriptions == nil {
		r.send(frontend.StreamResult{ErrorMessage: frontend.ErrorText(errNoSubscriber)})
		return
	}

	id, err := r.subscriptions.Connect(ctx, topic, onMessage)
	if err != nil {
		r.logger.Error("subscribing to core failed", "topic", topic, "error", err)
		r.send(frontend.StreamResult{ErrorMessage: frontend.ErrorText(err)})
		return
	}

	// SubscriptionClosed ignores ids it does not know, so a subscription
	// the core ended before this point must not be tracked.
	r.mu.Lock()
	previous := *tracked
	ended := !r.subscriptions.Active(id)
	if ended {
		*tracked = 0
	} else {
		*tracked = id
	}
	r.mu.Unlock()
	if previous != 0 {
		r.logger.Warn("replaced tracked subscription", "topic", topic, "previous", previous, "id", id)
	}
	if ended {
		r.logger.Info("core ended subscription before it was tracked", "topic", topic, "id", id)
	} else {
		r.logger.Info("subscribed to core", "topic", topic, "id", id)
	}
	r.send(frontend.StreamResult{Success: true})
}

// stopStream disconnects the tracked subscription, if any. Stopping
// with nothing tracked still succeeds.
func (r *Runtime) stopStream(topic string, tracked *uint32) {
	r.mu.Lock()
	id := *tracked
	*tracked = 0
	r.mu.Unlock()

	if id != 0 && r.subscriptions != nil {
		r.subscriptions.Disconnect(id)
		r.logger.Info("unsubscribed from core", "topic", topic, "id", id)
	}
	r.send(frontend.StreamResult{Success: true})
}

// SubscriptionClosed forgets id if it is still tracked. Wire it to
// the subscription manager's close callback so a subscription the core
// ended can be started again cleanly.
func (r *Runtime) SubscriptionClosed(id uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch id {
	case r.trafficID:
		r.trafficID = 0
	case r.logID:
		r.logID = 0
	default:
		return
	}
	r.logger.Info("core ended subscription", "id", id, "error", err)
}
