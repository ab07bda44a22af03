package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/am"
	"github.com/teranos/hypermark/db"
	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/relay"
	"github.com/teranos/hypermark/sync"
)

// loadConfig honours --config, otherwise reads the cascade.
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *am.Config
		err error
	)
	if path != "" {
		cfg, err = am.LoadFromFile(path)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// configPath is the file that relay add/remove and the watcher operate on.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return am.UserConfigPath()
}

// session is an initialized coordinator plus the resources it owns.
type session struct {
	coord    *sync.Coordinator
	database *sql.DB
}

// openSession builds a coordinator from cfg, backs its queue with the outbox
// when durable_queue is set, and initializes it with the configured secret.
func openSession(ctx context.Context, cfg *am.Config, autoConnect bool) (*session, error) {
	secret, err := cfg.Secret()
	if err != nil {
		return nil, err
	}

	opts := cfg.SyncOptions(logger.ComponentLogger("sync"))
	opts.AutoConnect = autoConnect

	s := &session{}
	if cfg.Database.DurableQueue {
		s.database, err = db.OpenWithMigrations(cfg.GetDatabasePath(), logger.ComponentLogger("db"))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open outbox at %s", cfg.GetDatabasePath())
		}
		opts.Queue = db.NewOutboxStore(s.database, logger.ComponentLogger("outbox"))
	}

	s.coord, err = sync.New(opts)
	if err != nil {
		s.closeDB()
		return nil, errors.Wrap(err, "failed to create coordinator")
	}
	if err := s.coord.Initialize(ctx, secret); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) closeDB() {
	if s.database != nil {
		s.database.Close()
	}
}

// Close flushes pending updates, disconnects and releases the database.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.coord.Close(ctx)
	s.closeDB()
}

// waitForAcks polls until every connected relay answered want more
// publishes than in before, or the timeout passes.
func waitForAcks(c *sync.Coordinator, before map[string]sync.RelayStatus, want int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		done := true
		for _, r := range c.Status().Relays {
			if r.State != relay.StateConnected.String() {
				continue
			}
			prev := before[r.URL]
			if (r.Acked-prev.Acked)+(r.Rejected-prev.Rejected) < want {
				done = false
			}
		}
		if done {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func relayStatuses(c *sync.Coordinator) map[string]sync.RelayStatus {
	out := make(map[string]sync.RelayStatus)
	for _, r := range c.Status().Relays {
		out[r.URL] = r
	}
	return out
}
