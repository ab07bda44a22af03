package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/am"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/relay"
	"github.com/teranos/hypermark/sync"
)

// SyncCmd connects to the configured relays and streams bookmark changes
var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Connect to relays and stream bookmark changes",
	Long: `Connect to every configured relay, republish anything queued while offline
and print bookmark updates and deletions from other devices as they arrive.
Edits to the config file add or drop relays without a restart.

Examples:
  hypermark sync
  hypermark sync --json
  hypermark sync --doc settings`,
	RunE: runSync,
}

var (
	syncNoWatch bool
	syncDocs    []string
)

func init() {
	SyncCmd.Flags().BoolVar(&syncNoWatch, "no-watch", false, "Do not reload relays when the config file changes")
	SyncCmd.Flags().StringSliceVar(&syncDocs, "doc", nil, "Also keep these documents merged and republished")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	printRelayResults(s.coord.Status())

	if _, err := s.coord.SubscribeToBookmarks(
		func(id string, b sync.Bookmark) { printBookmarkChange(jsonOutput, "update", id, &b) },
		func(id string) { printBookmarkChange(jsonOutput, "delete", id, nil) },
	); err != nil {
		return err
	}

	for _, name := range syncDocs {
		doc, ds, err := attachDocument(s.coord, name)
		if err != nil {
			return err
		}
		defer ds.Stop()
		printDocumentChanges(name, doc)
	}

	if !syncNoWatch {
		if stopWatch := watchRelays(ctx, cmd, s.coord); stopWatch != nil {
			defer stopWatch()
		}
	}

	pterm.Info.Printf("Syncing as %s, Ctrl+C to stop\n", s.coord.PublicKey())
	<-ctx.Done()
	pterm.Info.Println("Flushing and disconnecting")
	return nil
}

// watchRelays reconciles the coordinator's relay set with the config file.
func watchRelays(ctx context.Context, cmd *cobra.Command, c *sync.Coordinator) func() {
	path := configPath(cmd)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debugw("Config file not present, relay reload disabled", "path", path)
		return nil
	}

	var (
		watcher *am.ConfigWatcher
		err     error
	)
	if explicit, _ := cmd.Flags().GetString("config"); explicit != "" {
		watcher, err = am.NewFileWatcher(path)
	} else {
		watcher, err = am.NewConfigWatcher(path)
	}
	if err != nil {
		logger.Warnw("Config watcher unavailable", "path", path, logger.FieldError, err)
		return nil
	}

	watcher.OnReload(func(cfg *am.Config) error {
		results := c.SetRelays(ctx, cfg.Relays.URLs)
		if failed := relay.Failed(results); len(failed) > 0 {
			return fmt.Errorf("%d relays failed to connect", len(failed))
		}
		return nil
	})
	am.SetGlobalWatcher(watcher)
	watcher.Start()

	return func() {
		am.SetGlobalWatcher(nil)
		watcher.Stop()
	}
}

func printRelayResults(st sync.Status) {
	for _, r := range st.Relays {
		if r.State == relay.StateConnected.String() {
			pterm.Success.Printf("Connected to %s\n", r.URL)
		} else {
			pterm.Warning.Printf("%s is %s: %s\n", r.URL, r.State, r.LastError)
		}
	}
	if st.Queued > 0 {
		pterm.Info.Printf("%d events still queued for delivery\n", st.Queued)
	}
}

type bookmarkChange struct {
	Change   string         `json:"change"`
	ID       string         `json:"id"`
	Bookmark *sync.Bookmark `json:"bookmark,omitempty"`
}

func printBookmarkChange(jsonOutput bool, change, id string, b *sync.Bookmark) {
	if jsonOutput {
		data, _ := json.Marshal(bookmarkChange{Change: change, ID: id, Bookmark: b})
		fmt.Println(string(data))
		return
	}
	if b == nil {
		fmt.Printf("%s %s\n", pterm.Red("deleted"), id)
		return
	}
	line := fmt.Sprintf("%s %s %s", pterm.Green("updated"), id, b.URL)
	if b.Title != "" {
		line += " " + pterm.Gray(b.Title)
	}
	if len(b.Tags) > 0 {
		line += " " + pterm.LightCyan("#"+strings.Join(b.Tags, " #"))
	}
	fmt.Println(line)
}
