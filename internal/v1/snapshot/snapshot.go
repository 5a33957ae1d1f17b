// Package snapshot implements the Snapshot Store: durable save/restore of a
// diagram's authoritative graph, independent of any single room's lifetime.
// It wraps Redis the same way internal/v1/bus wraps it for pub/sub - a
// circuit breaker shields the room's hot path from a degraded Redis, and
// failures degrade gracefully (log + continue) rather than blocking callers.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store persists diagram graph snapshots to Redis: a sorted set indexes
// saved versions per diagram, and each version's blob is a separate key.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewStore wraps an existing Redis client. A nil client puts the store into
// single-instance no-op mode, mirroring bus.Service's behavior so callers
// can share one "Redis optional" code path.
func NewStore(client *redis.Client) *Store {
	st := gobreaker.Settings{
		Name:        "snapshot-store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("snapshot_store").Set(stateVal)
		},
	}
	return &Store{client: client, cb: gobreaker.NewCircuitBreaker(st)}
}

func indexKey(diagramID types.DiagramIDType) string {
	return fmt.Sprintf("liveshare:diagram:%s:index", diagramID)
}

func blobKey(diagramID types.DiagramIDType, version uint64) string {
	return fmt.Sprintf("liveshare:diagram:%s:snapshot:%d", diagramID, version)
}

// Save persists one versioned graph snapshot and indexes it.
func (s *Store) Save(ctx context.Context, diagramID types.DiagramIDType, data []byte, version uint64) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, blobKey(diagramID, version), data, 0)
		pipe.ZAdd(ctx, indexKey(diagramID), redis.Z{Score: float64(version), Member: version})
		_, err := pipe.Exec(ctx)
		return nil, err
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("snapshot_store").Inc()
			logging.Warn(ctx, "snapshot store circuit open: dropping save")
			return nil
		}
		logging.Error(ctx, "snapshot save failed", zap.Error(err))
		return fmt.Errorf("snapshot save: %w", err)
	}
	return nil
}

// Latest returns the highest-versioned snapshot saved for a diagram. A
// circuit-open or missing snapshot returns an empty graph (nil data) and no
// error, so a fresh room can still start from an empty diagram.
func (s *Store) Latest(ctx context.Context, diagramID types.DiagramIDType) ([]byte, uint64, error) {
	if s == nil || s.client == nil {
		return nil, 0, nil
	}

	type result struct {
		data    []byte
		version uint64
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		members, err := s.client.ZRevRangeWithScores(ctx, indexKey(diagramID), 0, 0).Result()
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			return result{}, nil
		}
		version := uint64(members[0].Score)
		data, err := s.client.Get(ctx, blobKey(diagramID, version)).Bytes()
		if err != nil {
			if err == redis.Nil {
				return result{}, nil
			}
			return nil, err
		}
		return result{data: data, version: version}, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("snapshot_store").Inc()
			logging.Warn(ctx, "snapshot store circuit open: returning empty graph")
			return nil, 0, nil
		}
		logging.Error(ctx, "snapshot latest failed", zap.Error(err))
		return nil, 0, fmt.Errorf("snapshot latest: %w", err)
	}

	r := res.(result)
	return r.data, r.version, nil
}

// Cleanup trims a diagram's snapshot history down to the most recent `keep`
// versions, deleting older blobs and their index entries.
func (s *Store) Cleanup(ctx context.Context, diagramID types.DiagramIDType, keep int) error {
	if s == nil || s.client == nil {
		return nil
	}
	if keep < 0 {
		keep = 0
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		stale, err := s.client.ZRevRange(ctx, indexKey(diagramID), int64(keep), -1).Result()
		if err != nil {
			return nil, err
		}
		if len(stale) == 0 {
			return nil, nil
		}

		pipe := s.client.TxPipeline()
		for _, member := range stale {
			var version uint64
			fmt.Sscanf(member, "%d", &version)
			pipe.Del(ctx, blobKey(diagramID, version))
			pipe.ZRem(ctx, indexKey(diagramID), member)
		}
		_, err = pipe.Exec(ctx)
		return nil, err
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("snapshot_store").Inc()
			logging.Warn(ctx, "snapshot store circuit open: skipping cleanup")
			return nil
		}
		logging.Error(ctx, "snapshot cleanup failed", zap.Error(err))
		return fmt.Errorf("snapshot cleanup: %w", err)
	}
	return nil
}

var _ types.SnapshotSink = (*Store)(nil)
