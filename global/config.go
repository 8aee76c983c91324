package global

import (
	"os"
	"strconv"
	"strings"
	"time"

	"ChatWave/logger"
	mongoc "ChatWave/service/storage/mongo"
	redisc "ChatWave/service/storage/redis"
	"ChatWave/tools/ids"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GatewayID identifies this instance in relay envelopes and presence keys.
func GatewayID() string { return env("GATEWAY_ID", "chat_gw-1") }

// ListenAddr is the HTTP/WebSocket bind address.
func ListenAddr() string { return env("LISTEN_ADDR", ":8080") }

// PresenceTTL bounds projection staleness if a node dies without cleanup.
func PresenceTTL() time.Duration {
	return time.Duration(envInt("PRESENCE_TTL_SEC", 300)) * time.Second
}

func NatsServers() []string {
	return strings.Split(env("NATS_SERVERS", "nats://127.0.0.1:4222"), ",")
}

func ConfigIds() {
	ids.SetNodeID(int64(envInt("NODE_ID", 1)))
}

func ConfigRedis() error {
	cfg := redisc.Config{
		Addr:     env("REDIS_ADDR", "127.0.0.1:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
		PoolSize: envInt("REDIS_POOL", 20),
	}
	if err := redisc.Init(cfg); err != nil {
		return err
	}
	logger.Infof("[config] redis ready addr=%s", cfg.Addr)
	return nil
}

func ConfigMongo() error {
	cfg := &mongoc.Config{
		Uri:         env("MONGO_URI", "mongodb://localhost:27017"),
		Database:    env("MONGO_DB", "chatwave"),
		Username:    os.Getenv("MONGO_USER"),
		Password:    os.Getenv("MONGO_PASSWORD"),
		AuthSource:  env("MONGO_AUTH_SOURCE", "admin"),
		MaxPoolSize: envInt("MONGO_POOL", 20),
	}
	if err := mongoc.Init(cfg); err != nil {
		return err
	}
	logger.Infof("[config] mongo ready db=%s", cfg.Database)
	return nil
}
