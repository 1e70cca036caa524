package database

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// ConnectRedis dials Redis using the redis.* config keys. Redis carries only
// soft state here (idempotency replays, token revocations, share codes), so
// an unreachable instance degrades those features instead of blocking
// startup: the caller gets nil and every consumer tolerates it.
func ConnectRedis() *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", viper.GetString("redis.host"), viper.GetString("redis.port")),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("[REDIS] unreachable, running without idempotency and share codes: %v", err)
		return nil
	}

	log.Printf("[REDIS] connected to %s", client.Options().Addr)
	return client
}
