package redis

import "time"

// Config describes the redis connection. Fields are read from the environment
// by pkg/config.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"` // redis://:password@host:6379/0; empty disables redis
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	ChannelPrefix  string        `env:"REDIS_CHANNEL_PREFIX" envDefault:"statechart"`
	RetainFor      time.Duration `env:"REDIS_RETAIN_FOR" envDefault:"0s"` // keep the latest snapshot under a key; 0 disables
}
