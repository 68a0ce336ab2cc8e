package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"potluck-chat/internal/realtime"

	"go.uber.org/zap"
)

const roomChannelPrefix = "channel:room:"

// RoomChannel is the pub/sub channel carrying deliveries for one room.
func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

// Backplane is the multi-process Broadcaster: every envelope goes through redis pub/sub and
// each process's Bridge delivers it to local connections.
type Backplane struct {
	publisher *Publisher
}

func NewBackplane(publisher *Publisher) *Backplane {
	return &Backplane{publisher: publisher}
}

func (b *Backplane) Publish(ctx context.Context, env realtime.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.publisher.Publish(ctx, RoomChannel(env.Room), data); err != nil {
		return fmt.Errorf("backplane publish failed: %w", err)
	}
	return nil
}

// Bridge feeds backplane deliveries into the local hub.
type Bridge struct {
	subscriber *Subscriber
	hub        *realtime.Hub
	log        *zap.Logger
}

func NewBridge(subscriber *Subscriber, hub *realtime.Hub, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{subscriber: subscriber, hub: hub, log: log}
}

// Run blocks until ctx is cancelled. ready is closed once the subscription is live.
func (b *Bridge) Run(ctx context.Context, ready chan<- struct{}) error {
	return b.subscriber.Subscribe(ctx, []string{roomChannelPrefix + "*"}, ready, func(channel string, payload []byte) {
		var env realtime.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			b.log.Warn("invalid backplane envelope", zap.String("channel", channel), zap.Error(err))
			return
		}
		if env.Room == "" {
			env.Room = strings.TrimPrefix(channel, roomChannelPrefix)
		}
		b.hub.Deliver(env)
	})
}
