package registry

import (
	"log"

	"screenspool/internal/utils"
)

const (
	EnvRedisHost     = "REDIS_HOST"
	EnvRedisPort     = "REDIS_PORT"
	EnvRedisUser     = "REDIS_USERNAME"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// NewStore picks the Redis store when REDIS_HOST is set and reachable,
// otherwise the in-memory store.
func NewStore() Store {
	redisHost := utils.GetEnv(EnvRedisHost, "")

	if redisHost != "" {
		redisPort := utils.GetEnv(EnvRedisPort, "6379")
		redisUser := utils.GetEnv(EnvRedisUser, "")
		redisPassword := utils.GetEnv(EnvRedisPassword, "")

		store, err := NewRedisStore(redisHost, redisPort, redisUser, redisPassword)
		if err != nil {
			log.Printf("Redis connection failed: %v", err)
			log.Println("Falling back to in-memory agent registry")
			return NewMemoryStore()
		}
		log.Printf("Using Redis agent registry: %s:%s", redisHost, redisPort)
		return store
	}

	log.Println("Using in-memory agent registry")
	return NewMemoryStore()
}
