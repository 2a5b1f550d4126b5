package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors slot states and sensor readings into Redis so other
// shelf tools can read them without going through the management bus.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore keys everything under "mmcd:<node>:".
func NewRedisStore(client *redis.Client, node string) *RedisStore {
	return &RedisStore{client: client, prefix: "mmcd:" + node}
}

func (r *RedisStore) slotKey(slot int) string {
	return fmt.Sprintf("%s:slot:%d", r.prefix, slot)
}

func (r *RedisStore) sensorKey(id uint8) string {
	return fmt.Sprintf("%s:sensor:%d", r.prefix, id)
}

func (r *RedisStore) slotsKey() string   { return r.prefix + ":slots" }
func (r *RedisStore) sensorsKey() string { return r.prefix + ":sensors" }
func (r *RedisStore) faultsKey() string  { return r.prefix + ":faults" }

func (r *RedisStore) SetSlotState(ctx context.Context, s *SlotState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.slotKey(s.Slot), data, 0)
	pipe.SAdd(ctx, r.slotsKey(), s.Slot)
	if s.Fault != "" {
		pipe.HIncrBy(ctx, r.faultsKey(), strconv.Itoa(s.Slot), 1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetSlotState(ctx context.Context, slot int) (*SlotState, error) {
	data, err := r.client.Get(ctx, r.slotKey(slot)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s SlotState
	return &s, json.Unmarshal(data, &s)
}

func (r *RedisStore) SetReading(ctx context.Context, rd *SensorReading) error {
	data, err := json.Marshal(rd)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.sensorKey(rd.ID), data, 0)
	pipe.SAdd(ctx, r.sensorsKey(), rd.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetReading(ctx context.Context, id uint8) (*SensorReading, error) {
	data, err := r.client.Get(ctx, r.sensorKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rd SensorReading
	return &rd, json.Unmarshal(data, &rd)
}

// FaultCount returns how many faulted transitions were cached for slot.
func (r *RedisStore) FaultCount(ctx context.Context, slot int) (int, error) {
	val, err := r.client.HGet(ctx, r.faultsKey(), strconv.Itoa(slot)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (r *RedisStore) GetAllSlots(ctx context.Context) ([]int, error) {
	members, err := r.client.SMembers(ctx, r.slotsKey()).Result()
	if err != nil {
		return nil, err
	}
	slots := make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		slots = append(slots, n)
	}
	return slots, nil
}

// FlushAll removes every key this node owns. Called on startup so stale
// state from a previous run is never served.
func (r *RedisStore) FlushAll(ctx context.Context) error {
	slots, err := r.GetAllSlots(ctx)
	if err != nil {
		return err
	}
	sensors, err := r.client.SMembers(ctx, r.sensorsKey()).Result()
	if err != nil {
		return err
	}
	keys := []string{r.slotsKey(), r.sensorsKey(), r.faultsKey()}
	for _, s := range slots {
		keys = append(keys, r.slotKey(s))
	}
	for _, m := range sensors {
		id, err := strconv.ParseUint(m, 10, 8)
		if err != nil {
			continue
		}
		keys = append(keys, r.sensorKey(uint8(id)))
	}
	return r.client.Del(ctx, keys...).Err()
}

// Ping reports whether the server is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
