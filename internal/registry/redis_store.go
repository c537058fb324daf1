package registry

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"screenspool/internal/constants"
)

// RedisStore keeps registry entries in Redis so a fleet dashboard (or a
// second collector) can observe them. Entries expire on their own if the
// collector dies without cleaning up.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
	cancel func()
}

func NewRedisStore(host, port, username, password string) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithCancel(context.Background())

	store := &RedisStore{
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := store.client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}

	return store, nil
}

func (st *RedisStore) Save(entry *Entry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Failed to marshal registry entry: %v", err)
		return
	}

	key := constants.RegistryKeyPrefix + entry.SessionID
	if err := st.client.Set(st.ctx, key, jsonData, constants.RegistryEntryTTL).Err(); err != nil {
		log.Printf("Failed to save registry entry to Redis: %v", err)
	}
}

func (st *RedisStore) Get(sessionID string) (*Entry, bool) {
	key := constants.RegistryKeyPrefix + sessionID

	data, err := st.client.Get(st.ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("Failed to get registry entry from Redis: %v", err)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		log.Printf("Failed to unmarshal registry entry: %v", err)
		return nil, false
	}

	return &entry, true
}

func (st *RedisStore) Delete(sessionID string) {
	key := constants.RegistryKeyPrefix + sessionID
	if err := st.client.Del(st.ctx, key).Err(); err != nil {
		log.Printf("Failed to delete registry entry from Redis: %v", err)
	}
}

func (st *RedisStore) List() []*Entry {
	var entries []*Entry

	pattern := constants.RegistryKeyPrefix + "*"
	iter := st.client.Scan(st.ctx, 0, pattern, 100).Iterator()

	for iter.Next(st.ctx) {
		sessionID := iter.Val()[len(constants.RegistryKeyPrefix):]
		if entry, ok := st.Get(sessionID); ok {
			entries = append(entries, entry)
		}
	}

	if err := iter.Err(); err != nil {
		log.Printf("Redis scan error: %v", err)
	}

	return entries
}

func (st *RedisStore) Close() error {
	st.cancel()
	return st.client.Close()
}
