package constants

import "time"

const (
	MatchCacheTTL        = 20 * time.Minute
	MatchCacheMaxEntries = 512
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	APIMaxRetries     = 3
	APIRetryBaseDelay = 500 * time.Millisecond
)

const (
	DefaultPollInterval = 15 * time.Second
	MaxBackoffCap       = 5 * time.Minute
	UnhealthyThreshold  = 5
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)
