package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerURL      string
	WSURL          string
	Token          string
	RequestTimeout time.Duration

	// Session
	ListID string
	Actor  string

	// Storage
	DBPath          string
	QueuePassphrase string
	QueueCapacity   int

	// Undo
	UndoWindow time.Duration
	UndoMax    int

	// Connectivity
	Debounce time.Duration

	// Relay
	RelayAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		ServerURL:       getEnv("LISTSYNC_SERVER_URL", "http://localhost:8080"),
		WSURL:           getEnv("LISTSYNC_WS_URL", ""),
		Token:           getEnv("LISTSYNC_TOKEN", ""),
		RequestTimeout:  getDurationEnv("LISTSYNC_REQUEST_TIMEOUT", 10*time.Second),
		ListID:          getEnv("LISTSYNC_LIST_ID", ""),
		Actor:           getEnv("LISTSYNC_ACTOR", ""),
		DBPath:          getEnv("LISTSYNC_DB_PATH", "listsync.db"),
		QueuePassphrase: getEnv("LISTSYNC_QUEUE_PASSPHRASE", ""),
		QueueCapacity:   getIntEnv("LISTSYNC_QUEUE_CAPACITY", 100),
		UndoWindow:      getDurationEnv("LISTSYNC_UNDO_WINDOW", 30*time.Second),
		UndoMax:         getIntEnv("LISTSYNC_UNDO_MAX", 10),
		Debounce:        getDurationEnv("LISTSYNC_DEBOUNCE", 0),
		RelayAddr:       getEnv("LISTSYNC_RELAY_ADDR", ":8081"),
		LogLevel:        getEnv("LISTSYNC_LOG_LEVEL", "info"),
		LogFormat:       getEnv("LISTSYNC_LOG_FORMAT", "text"),
	}
}

// EventsURL is the WebSocket endpoint, derived from ServerURL when WSURL is
// not set.
func (c *Config) EventsURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	switch {
	case len(c.ServerURL) >= 8 && c.ServerURL[:8] == "https://":
		return "wss://" + c.ServerURL[8:] + "/ws"
	case len(c.ServerURL) >= 7 && c.ServerURL[:7] == "http://":
		return "ws://" + c.ServerURL[7:] + "/ws"
	}
	return c.ServerURL + "/ws"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("30s") or a bare number of
// milliseconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
