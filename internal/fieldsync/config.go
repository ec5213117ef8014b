// Package fieldsync is the offline fieldwork agent: it keeps operations
// recorded on site in a local sqlite queue and drains them to the server
// whenever a connection is available.
package fieldsync

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skyassure/peerreview-backend/internal/platform/envutil"
)

type Config struct {
	ServerURL string
	Token     string
	DeviceID  string
	DBPath    string

	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
	ProbeBase    time.Duration
	ProbeMax     time.Duration
}

func LoadConfig() Config {
	return Config{
		ServerURL: strings.TrimRight(envutil.Str("FIELDSYNC_SERVER_URL", "http://localhost:8080"), "/"),
		Token:     strings.TrimSpace(os.Getenv("FIELDSYNC_TOKEN")),
		DeviceID:  envutil.Str("FIELDSYNC_DEVICE_ID", defaultDeviceID()),
		DBPath:    envutil.Str("FIELDSYNC_DB", defaultDBPath()),

		BatchSize:    envutil.Int("FIELDSYNC_BATCH_SIZE", 50),
		MaxAttempts:  envutil.Int("FIELDSYNC_MAX_ATTEMPTS", 8),
		PollInterval: envutil.Duration("FIELDSYNC_POLL_INTERVAL", 15*time.Second),
		ProbeBase:    envutil.Duration("FIELDSYNC_PROBE_BASE", 2*time.Second),
		ProbeMax:     envutil.Duration("FIELDSYNC_PROBE_MAX", 2*time.Minute),
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "fieldsync.db"
	}
	return filepath.Join(home, ".fieldsync", "queue.db")
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "field-device"
	}
	return host
}
