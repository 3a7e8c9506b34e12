package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink veröffentlicht Events als JSON auf einem Redis-Pub/Sub-Kanal.
type RedisSink struct {
	rdb     *goredis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisSink erstellt einen RedisSink und prüft die Verbindung.
func NewRedisSink(ctx context.Context, rdb *goredis.Client, channel string, logger *zap.Logger) (*RedisSink, error) {
	if rdb == nil {
		return nil, errors.New("redis client required")
	}
	if channel == "" {
		channel = "pipeline-progress"
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisSink{rdb: rdb, channel: channel, logger: logger.With(zap.String("component", "progress_redis"))}, nil
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, raw).Err()
}

// Subscribe leitet empfangene Events an onEvent weiter, bis ctx endet.
func (s *RedisSink) Subscribe(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return errors.New("onEvent callback required")
	}
	sub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					s.logger.Warn("bad progress payload", zap.Error(err))
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
