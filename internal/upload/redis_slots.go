package upload

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// deleteSlotScript removes a slot and drops the applicant from the index once
// their hash is empty, in one step so a concurrent Put cannot be unindexed.
var deleteSlotScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
if redis.call('HLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return 1
`)

// RedisSlotStore shares slots between worker processes. Each applicant owns a
// hash keyed by document type; an index set lists applicants with open slots.
type RedisSlotStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSlotStore creates a store under prefix ("docverify:slots:" when empty).
func NewRedisSlotStore(client *redis.Client, prefix string) *RedisSlotStore {
	if prefix == "" {
		prefix = "docverify:slots:"
	}
	return &RedisSlotStore{client: client, prefix: prefix}
}

func (r *RedisSlotStore) hashKey(applicantID string) string {
	return r.prefix + applicantID
}

func (r *RedisSlotStore) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisSlotStore) Get(ctx context.Context, applicantID, docType string) (*Slot, bool, error) {
	data, err := r.client.HGet(ctx, r.hashKey(applicantID), docType).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read slot %s/%s: %w", applicantID, docType, err)
	}
	var slot Slot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, false, fmt.Errorf("failed to decode slot %s/%s: %w", applicantID, docType, err)
	}
	return &slot, true, nil
}

func (r *RedisSlotStore) Put(ctx context.Context, slot *Slot) error {
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("failed to encode slot: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey(slot.ApplicantID), slot.DocumentType, data)
		pipe.SAdd(ctx, r.indexKey(), slot.ApplicantID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store slot %s/%s: %w", slot.ApplicantID, slot.DocumentType, err)
	}
	return nil
}

func (r *RedisSlotStore) Delete(ctx context.Context, applicantID, docType string) error {
	keys := []string{r.hashKey(applicantID), r.indexKey()}
	if err := deleteSlotScript.Run(ctx, r.client, keys, docType, applicantID).Err(); err != nil {
		return fmt.Errorf("failed to delete slot %s/%s: %w", applicantID, docType, err)
	}
	return nil
}

func (r *RedisSlotStore) List(ctx context.Context, applicantID string) ([]*Slot, error) {
	entries, err := r.client.HGetAll(ctx, r.hashKey(applicantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list slots for %s: %w", applicantID, err)
	}
	out := make([]*Slot, 0, len(entries))
	for docType, data := range entries {
		var slot Slot
		if err := json.Unmarshal([]byte(data), &slot); err != nil {
			return nil, fmt.Errorf("failed to decode slot %s/%s: %w", applicantID, docType, err)
		}
		out = append(out, &slot)
	}
	sortSlots(out)
	return out, nil
}

func (r *RedisSlotStore) All(ctx context.Context) ([]*Slot, error) {
	applicants, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read slot index: %w", err)
	}
	var out []*Slot
	for _, id := range applicants {
		slots, err := r.List(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, slots...)
	}
	sortSlots(out)
	return out, nil
}
