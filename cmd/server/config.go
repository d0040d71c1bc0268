package main

import "time"

type Config struct {
	Host                    string        `env:"HOST,default=localhost"`
	Port                    int           `env:"PORT,default=8080"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256"`
	PongWait                time.Duration `env:"PONG_WAIT,default=60s"`
	PingPeriod              time.Duration `env:"PING_PERIOD,default=54s"`
	WriteWait               time.Duration `env:"WRITE_WAIT,default=10s"`
	HistoryPageSize         int           `env:"HISTORY_PAGE_SIZE,default=50"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	JWTSecret               string        `env:"JWT_SECRET,required=true"`
	TokenTTL                time.Duration `env:"TOKEN_TTL,default=15m"`
	SQLitePath              string        `env:"SQLITE_PATH,default=counselchat.db"`
	BadgerPath              string        `env:"BADGER_PATH,default=revocations"`
	LogLevel                string        `env:"LOG_LEVEL,default=INFO"`
}
