package presence

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"focusroom/internal/models"
)

const (
	recordKeyPrefix = "focusroom:presence:"
	indexKey        = "focusroom:presence:index"
	eventsChannel   = "focusroom:presence:events"
)

// RedisStore keeps each presence record in a hash under
// focusroom:presence:<id>, with a sorted-set index scored by last-seen
// so snapshots come back most-recently-active first. Every write also
// publishes on a pub/sub channel; watchers re-read the collection when
// the channel fires, which keeps the wire protocol trivial at the cost
// of one extra round trip per burst of changes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) recordKey(id string) string { return recordKeyPrefix + id }

func (s *RedisStore) Create(ctx context.Context, rec models.PresenceRecord) (string, error) {
	if rec.LastSeen.IsZero() {
		now, err := s.ServerTime(ctx)
		if err != nil {
			return "", err
		}
		rec.LastSeen = now
	}
	id := uuid.New().String()
	rec.ID = id
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(id), encodeRecord(rec))
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: timeScore(rec.LastSeen), Member: id})
		pipe.Publish(ctx, eventsChannel, "create:"+id)
		return nil
	})
	if err != nil {
		return "", &ConnectivityError{Op: "create", Err: err}
	}
	return id, nil
}

// updateScript applies a partial update only while the record's hash
// still exists. The existence check and the writes must run as one
// atomic script: with separate round trips, a delete landing between
// them (a leave, or the janitor) gets overwritten and the record comes
// back as a partial ghost that every snapshot then serves.
//
// KEYS: record hash, index zset, events channel.
// ARGV: index score ("" skips the bump), record id, field/value pairs.
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
for i = 3, #ARGV - 1, 2 do
	redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
if ARGV[1] ~= "" then
	redis.call("ZADD", KEYS[2], ARGV[1], ARGV[2])
end
redis.call("PUBLISH", KEYS[3], "update:" .. ARGV[2])
return 1
`)

func (s *RedisStore) Update(ctx context.Context, id string, patch Patch) error {
	if patch.IsZero() {
		return nil
	}
	var serverNow time.Time
	if patch.NeedsServerTime() {
		var err error
		serverNow, err = s.ServerTime(ctx)
		if err != nil {
			return err
		}
	}

	args := []interface{}{"", id}
	if patch.Status != "" {
		args = append(args, "status", string(patch.Status))
	}
	if patch.StartedAt.IsSet() {
		args = append(args, "started_at", encodeTime(patch.StartedAt.Resolve(serverNow)))
	}
	// A cleared LastSeen is ignored, mirroring Patch.Apply.
	if patch.LastSeen.IsSet() {
		if lastSeen := patch.LastSeen.Resolve(serverNow); lastSeen != nil {
			args = append(args, "last_seen", encodeTime(lastSeen))
			args[0] = strconv.FormatInt(lastSeen.UnixMicro(), 10)
		}
	}

	applied, err := updateScript.Run(ctx, s.client, []string{s.recordKey(id), indexKey, eventsChannel}, args...).Int()
	if err != nil {
		return &ConnectivityError{Op: "update", Err: err}
	}
	if applied == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.ZRem(ctx, indexKey, id)
		pipe.Publish(ctx, eventsChannel, "delete:"+id)
		return nil
	})
	if err != nil {
		return &ConnectivityError{Op: "delete", Err: err}
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (Snapshot, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return Snapshot{}, &ConnectivityError{Op: "read", Err: err}
	}
	if len(ids) == 0 {
		return Snapshot{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, &ConnectivityError{Op: "read", Err: err}
	}

	records := make([]models.PresenceRecord, 0, len(ids))
	var orphans []interface{}
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			// Index entry outlived its hash (partial delete). Repair
			// the index so it stops showing up in snapshots.
			orphans = append(orphans, id)
			continue
		}
		records = append(records, decodeRecord(id, fields))
	}
	if len(orphans) > 0 {
		if err := s.client.ZRem(ctx, indexKey, orphans...).Err(); err != nil {
			log.Printf("presence: index repair failed: %v", err)
		}
	}
	return Snapshot{Records: records}, nil
}

func (s *RedisStore) Watch(ctx context.Context) (<-chan Snapshot, error) {
	sub := s.client.Subscribe(ctx, eventsChannel)
	// Force the SUBSCRIBE round trip so a dead Redis fails Watch
	// instead of silently streaming nothing.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, &ConnectivityError{Op: "subscribe", Err: err}
	}
	initial, err := s.Read(ctx)
	if err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan Snapshot, 1)
	out <- initial
	go func() {
		defer close(out)
		defer sub.Close()
		events := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				drainEvents(events)
				snap, err := s.Read(ctx)
				if err != nil {
					log.Printf("presence: snapshot refresh failed: %v", err)
					continue
				}
				sendLatest(out, snap)
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, &ConnectivityError{Op: "server time", Err: err}
	}
	return t, nil
}

// drainEvents coalesces a burst of publishes into a single re-read.
func drainEvents(events <-chan *redis.Message) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

// sendLatest delivers snap without blocking. A consumer that has not
// drained the previous snapshot only ever needs the newest one, so the
// stale buffered value is dropped.
func sendLatest(out chan Snapshot, snap Snapshot) {
	for {
		select {
		case out <- snap:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}

func timeScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func encodeRecord(rec models.PresenceRecord) map[string]string {
	return map[string]string{
		"name":       rec.Name,
		"status":     string(rec.Status),
		"started_at": encodeTime(rec.StartedAt),
		"last_seen":  encodeTime(&rec.LastSeen),
	}
}

func decodeRecord(id string, fields map[string]string) models.PresenceRecord {
	rec := models.PresenceRecord{
		ID:        id,
		Name:      fields["name"],
		Status:    models.PresenceStatus(fields["status"]),
		StartedAt: decodeTime(fields["started_at"]),
	}
	if t := decodeTime(fields["last_seen"]); t != nil {
		rec.LastSeen = *t
	}
	return rec
}
