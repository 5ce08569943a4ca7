package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepdesk/prepdesk-backend/internal/config"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// enqueueBuffer bounds the in-process autosave queue. When it is full the
// newest snapshot is dropped — a later one supersedes it anyway.
const enqueueBuffer = 256

// fencedWrite installs a snapshot only when the writer holds the current
// fence and carries a sequence number above the stored one. Reordered or
// stale-device writes are rejected atomically server-side.
//
// KEYS: 1=snapshot, 2=fence, 3=seq. ARGV: 1=fence, 2=seq, 3=payload.
var fencedWrite = redis.NewScript(`
local fence = redis.call('GET', KEYS[2])
if fence ~= false and fence ~= ARGV[1] then
  return 0
end
local cur = tonumber(redis.call('GET', KEYS[3]) or '0')
if tonumber(ARGV[2]) <= cur then
  return 0
end
redis.call('SET', KEYS[1], ARGV[3])
redis.call('SET', KEYS[3], ARGV[2])
return 1
`)

// SnapshotStore is the Redis-backed hot snapshot cache. Implements
// engine.SnapshotCache. Enqueue hands snapshots to an internal pump that
// performs the fenced Redis write and feeds the persistence queue, so the
// countdown tick loop never waits on Redis.
type SnapshotStore struct {
	rdb   *redis.Client
	log   zerolog.Logger
	queue chan model.SnapshotEnvelope
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(rdb *redis.Client, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		rdb:   rdb,
		log:   log.With().Str("component", "snapshot_store").Logger(),
		queue: make(chan model.SnapshotEnvelope, enqueueBuffer),
	}
}

// Start runs the pump loop. Call in a goroutine.
func (s *SnapshotStore) Start(ctx context.Context) {
	s.log.Info().Msg("Snapshot pump started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Snapshot pump stopped")
			return
		case env := <-s.queue:
			if err := s.write(ctx, env); err != nil {
				s.log.Error().
					Err(err).
					Str("session_id", env.SessionID.String()).
					Msg("Snapshot write failed")
			}
		}
	}
}

// Enqueue schedules a fire-and-forget snapshot write. Never blocks.
func (s *SnapshotStore) Enqueue(sessionID uuid.UUID, snap model.Snapshot) {
	select {
	case s.queue <- model.SnapshotEnvelope{SessionID: sessionID, Snapshot: snap}:
	default:
		s.log.Warn().Str("session_id", sessionID.String()).Msg("Snapshot queue full, dropping")
	}
}

// InstallFence registers the fence token of the device that owns the
// session from now on.
func (s *SnapshotStore) InstallFence(ctx context.Context, sessionID uuid.UUID, fence string) error {
	key := config.CacheKey.SessionFenceKey(sessionID.String())
	if err := s.rdb.Set(ctx, key, fence, 0).Err(); err != nil {
		return fmt.Errorf("install fence: %w", err)
	}
	return nil
}

// Load returns the latest cached snapshot, or false if none exists.
func (s *SnapshotStore) Load(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, bool, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.SessionSnapshotKey(sessionID.String())).Result()
	if err == redis.Nil {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Clear drops all cached state for a completed session.
func (s *SnapshotStore) Clear(ctx context.Context, sessionID uuid.UUID) error {
	id := sessionID.String()
	return s.rdb.Del(ctx,
		config.CacheKey.SessionSnapshotKey(id),
		config.CacheKey.SessionSeqKey(id),
		config.CacheKey.SessionFenceKey(id),
	).Err()
}

// write performs the fenced Redis write and, when accepted, feeds the
// durable persistence queue consumed by the autosave worker.
func (s *SnapshotStore) write(ctx context.Context, env model.SnapshotEnvelope) error {
	payload, err := json.Marshal(env.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	id := env.SessionID.String()
	accepted, err := fencedWrite.Run(ctx, s.rdb,
		[]string{
			config.CacheKey.SessionSnapshotKey(id),
			config.CacheKey.SessionFenceKey(id),
			config.CacheKey.SessionSeqKey(id),
		},
		env.Snapshot.Fence, env.Snapshot.Seq, payload,
	).Int()
	if err != nil {
		return fmt.Errorf("fenced write: %w", err)
	}
	if accepted == 0 {
		// Fenced out or stale — a newer writer owns this session.
		s.log.Debug().Str("session_id", id).Uint64("seq", env.Snapshot.Seq).Msg("Snapshot rejected")
		return nil
	}

	queued, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, queued).Err()
}
