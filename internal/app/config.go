package app

import (
	"time"

	"github.com/skyassure/peerreview-backend/internal/platform/envutil"
)

type Config struct {
	JWTSecretKey    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	StatsCacheTTL time.Duration
}

func LoadConfig() Config {
	return Config{
		JWTSecretKey:    envutil.Str("JWT_SECRET_KEY", "defaultsecret"),
		AccessTokenTTL:  time.Duration(envutil.Int("ACCESS_TOKEN_TTL", 3600)) * time.Second,
		RefreshTokenTTL: time.Duration(envutil.Int("REFRESH_TOKEN_TTL", 86400)) * time.Second,
		StatsCacheTTL:   envutil.Duration("STATS_CACHE_TTL", 5*time.Minute),
	}
}
