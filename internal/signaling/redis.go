package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"call-platform/pkg/utils"
)

// RedisTransport stores envelopes under call-scoped keys and announces them on
// a per-call pub/sub channel.
//
// Key layout (hash-tagged so every key of a call lands in one cluster slot):
//
//	call:{id}:sdp:OFFER   latest offer (string)
//	call:{id}:sdp:ANSWER  latest answer (string)
//	call:{id}:ice         candidates (hash, field = envelope id)
//	call:{id}:signal      pub/sub channel
type RedisTransport struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedisTransport(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisTransport {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisTransport{rdb: rdb, ttl: ttl, log: log}
}

func slotKey(callID string, k Kind) string { return "call:{" + callID + "}:sdp:" + string(k) }
func iceKey(callID string) string         { return "call:{" + callID + "}:ice" }
func channelKey(callID string) string     { return "call:{" + callID + "}:signal" }

var publishScript = redis.NewScript(`
-- KEYS[1] = storage key
-- KEYS[2] = pub/sub channel
-- ARGV[1] = "slot" | "append"
-- ARGV[2] = envelope id
-- ARGV[3] = envelope json
-- ARGV[4] = ttl_ms
--
-- Store and announce atomically so a subscriber that replays after
-- subscribing can never miss an envelope.
if ARGV[1] == 'slot' then
  redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
else
  redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return redis.call('PUBLISH', KEYS[2], ARGV[3])
`)

func (t *RedisTransport) Publish(ctx context.Context, e Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key, mode := iceKey(e.CallID), "append"
	if e.Kind.Slotted() {
		key, mode = slotKey(e.CallID, e.Kind), "slot"
	}
	if err := publishScript.Run(ctx, t.rdb, []string{key, channelKey(e.CallID)}, mode, e.ID, string(b), t.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("publish %s for %s: %w", e.Kind, e.CallID, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, callID string, f Filter) (<-chan Envelope, func(), error) {
	if callID == "" {
		return nil, nil, ErrInvalidEnvelope
	}

	ps := t.rdb.Subscribe(ctx, channelKey(callID))
	// Wait for the subscription to be confirmed before replaying, otherwise an
	// envelope published in between would be neither replayed nor received.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", callID, err)
	}

	stored, err := t.stored(ctx, callID, f)
	if err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	box := utils.NewMailbox[Envelope]()
	box.Push(stored...)

	go box.Run(subCtx)
	go func() {
		defer func() { _ = ps.Close() }()
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					cancel()
					return
				}
				var e Envelope
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					t.log.Warn("dropping malformed envelope", "call_id", callID, "err", err)
					continue
				}
				if f.Match(e) {
					box.Push(e)
				}
			}
		}
	}()

	stop := func() {
		cancel()
		box.Close()
	}
	return box.Out(), stop, nil
}

func (t *RedisTransport) stored(ctx context.Context, callID string, f Filter) ([]Envelope, error) {
	var out []Envelope

	for _, k := range []Kind{KindOffer, KindAnswer} {
		if f.Kind != "" && f.Kind != k {
			continue
		}
		raw, err := t.rdb.Get(ctx, slotKey(callID, k)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s slot: %w", k, err)
		}
		var e Envelope
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode %s slot: %w", k, err)
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}

	if f.Kind == "" || f.Kind == KindICECandidate {
		all, err := t.rdb.HGetAll(ctx, iceKey(callID)).Result()
		if err != nil {
			return nil, fmt.Errorf("read candidates: %w", err)
		}
		ice := make([]Envelope, 0, len(all))
		for _, raw := range all {
			var e Envelope
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				t.log.Warn("skipping malformed stored candidate", "call_id", callID, "err", err)
				continue
			}
			if f.Match(e) {
				ice = append(ice, e)
			}
		}
		sort.SliceStable(ice, func(i, j int) bool { return ice[i].SentAt.Before(ice[j].SentAt) })
		out = append(out, ice...)
	}
	return out, nil
}

func (t *RedisTransport) Purge(ctx context.Context, callID string) error {
	if callID == "" {
		return ErrInvalidEnvelope
	}
	return t.rdb.Del(ctx, slotKey(callID, KindOffer), slotKey(callID, KindAnswer), iceKey(callID)).Err()
}
