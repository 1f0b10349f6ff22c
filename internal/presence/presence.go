// Package presence mirrors live room membership into Redis so that other
// relay instances and the REST API can report occupancy.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/config"
	"github.com/redis/go-redis/v9"
)

const peersTTL = 24 * time.Hour

func peersKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

type Mirror struct {
	client *redis.Client
	logger hclog.Logger
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig, logger hclog.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, logger), nil
}

func New(client *redis.Client, logger hclog.Logger) *Mirror {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Mirror{client: client, logger: logger.Named("presence")}
}

// Joined adds userID to the room's peer set and pushes its expiry out.
func (m *Mirror) Joined(ctx context.Context, roomID, userID string) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, peersKey(roomID), userID)
		pipe.Expire(ctx, peersKey(roomID), peersTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence join %s: %w", roomID, err)
	}
	return nil
}

// Left removes userID; Redis drops the key with its last member.
func (m *Mirror) Left(ctx context.Context, roomID, userID string) error {
	if err := m.client.SRem(ctx, peersKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("presence leave %s: %w", roomID, err)
	}
	return nil
}

func (m *Mirror) Count(ctx context.Context, roomID string) (int64, error) {
	return m.client.SCard(ctx, peersKey(roomID)).Result()
}

func (m *Mirror) Members(ctx context.Context, roomID string) ([]string, error) {
	return m.client.SMembers(ctx, peersKey(roomID)).Result()
}

// Remove forgets a room entirely.
func (m *Mirror) Remove(ctx context.Context, roomID string) error {
	return m.client.Del(ctx, peersKey(roomID)).Err()
}

// Refresh re-adds the members of every live room and renews the TTLs. Sets are
// shared between instances, so members are never removed here.
func (m *Mirror) Refresh(ctx context.Context, rooms map[string][]string) error {
	if len(rooms) == 0 {
		return nil
	}
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for roomID, members := range rooms {
			if len(members) == 0 {
				continue
			}
			args := make([]interface{}, len(members))
			for i, id := range members {
				args[i] = id
			}
			pipe.SAdd(ctx, peersKey(roomID), args...)
			pipe.Expire(ctx, peersKey(roomID), peersTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence refresh: %w", err)
	}
	m.logger.Debug("presence refreshed", "rooms", len(rooms))
	return nil
}

func (m *Mirror) Close() error {
	return m.client.Close()
}
