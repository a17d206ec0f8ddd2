// Package config loads and validates the start-up configuration for the
// sync orchestrator. Validation failures are fatal: they are surfaced to
// main as a syncerr ConfigError and the process exits nonzero before any
// queue consumption begins, following spirit's pattern of running all
// preflight checks before Runner.setup ever touches the database.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/loopworks/edgesync/pkg/syncerr"
)

const (
	DefaultBatchSize           = 200
	DefaultResyncWindowMinutes = 10
	DefaultLedgerSchema        = "edges_raw"
)

// Config is the full set of configuration enumerated in spec.md §6.
type Config struct {
	SiteID      string
	ListID      string
	WatchedPath string

	BatchSize           int
	ResyncWindowMinutes int
	LedgerSchema        string

	DBConnection      string
	QueueConnection   string
	SourceCredentials string
}

var guidRE = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// FromEnv builds a Config from environment variables, applying defaults for
// anything optional, and validates the result before returning it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		SiteID:              os.Getenv("EDGESYNC_SITE_ID"),
		ListID:              os.Getenv("EDGESYNC_LIST_ID"),
		WatchedPath:         os.Getenv("EDGESYNC_WATCHED_PATH"),
		BatchSize:           DefaultBatchSize,
		ResyncWindowMinutes: DefaultResyncWindowMinutes,
		LedgerSchema:        DefaultLedgerSchema,
		DBConnection:        os.Getenv("EDGESYNC_DB_CONNECTION"),
		QueueConnection:     os.Getenv("EDGESYNC_QUEUE_CONNECTION"),
		SourceCredentials:   os.Getenv("EDGESYNC_SOURCE_CREDENTIALS"),
	}
	if v := os.Getenv("EDGESYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindConfig, "EDGESYNC_BATCH_SIZE must be an integer", err)
		}
		cfg.BatchSize = n
	}
	if v := os.Getenv("EDGESYNC_RESYNC_WINDOW_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindConfig, "EDGESYNC_RESYNC_WINDOW_MINUTES must be an integer", err)
		}
		cfg.ResyncWindowMinutes = n
	}
	if v := os.Getenv("EDGESYNC_LEDGER_SCHEMA"); v != "" {
		cfg.LedgerSchema = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is well-formed. It does not reach out
// to the network or the database: establishing those connections is the
// responsibility of the dedicated start-up phase (pkg/check), not this
// package.
func (c *Config) Validate() error {
	if c.SiteID == "" {
		return syncerr.New(syncerr.KindConfig, "site_id is required")
	}
	if !isValidSiteID(c.SiteID) {
		return syncerr.New(syncerr.KindConfig, fmt.Sprintf("site_id %q is neither a GUID nor a host,guid,guid composite", c.SiteID))
	}
	if c.ListID == "" {
		return syncerr.New(syncerr.KindConfig, "list_id is required")
	}
	if !guidRE.MatchString(c.ListID) {
		return syncerr.New(syncerr.KindConfig, fmt.Sprintf("list_id %q is not a GUID", c.ListID))
	}
	if c.WatchedPath == "" {
		return syncerr.New(syncerr.KindConfig, "watched_path is required")
	}
	if c.BatchSize <= 0 {
		return syncerr.New(syncerr.KindConfig, "batch_size must be positive")
	}
	if c.ResyncWindowMinutes <= 0 {
		return syncerr.New(syncerr.KindConfig, "resync_window_minutes must be positive")
	}
	if c.DBConnection == "" {
		return syncerr.New(syncerr.KindConfig, "db_connection is required")
	}
	if c.QueueConnection == "" {
		return syncerr.New(syncerr.KindConfig, "queue_connection is required")
	}
	return nil
}

// ResyncWindow is ResyncWindowMinutes as a time.Duration, for convenience
// at call sites that subtract it from a timestamp.
func (c *Config) ResyncWindow() time.Duration {
	return time.Duration(c.ResyncWindowMinutes) * time.Minute
}

// isValidSiteID accepts a bare GUID or the composite "host,guid,guid" form
// named in spec.md §6.
func isValidSiteID(s string) bool {
	if guidRE.MatchString(s) {
		return true
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return false
	}
	if strings.TrimSpace(parts[0]) == "" {
		return false
	}
	return guidRE.MatchString(parts[1]) && guidRE.MatchString(parts[2])
}
