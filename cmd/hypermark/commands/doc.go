package commands

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/crdt"
	"github.com/teranos/hypermark/crdt/lwwmap"
	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/sync"
)

// DocCmd reads and writes replicated key/value documents
var DocCmd = &cobra.Command{
	Use:   "doc",
	Short: "Read and write synced documents",
	Long: `Documents are replicated maps stored as one encrypted replaceable event per
name. Every command first collects the latest remote state, merges it, then acts.

Examples:
  hypermark doc put settings theme dark
  hypermark doc show settings`,
}

var docPutCmd = &cobra.Command{
	Use:   "put <name> <key> <value>",
	Short: "Set a key and publish the merged document",
	Args:  cobra.ExactArgs(3),
	RunE:  runDocPut,
}

var docShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the merged document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocShow,
}

var docWait time.Duration

func init() {
	DocCmd.PersistentFlags().DurationVar(&docWait, "wait", 2*time.Second, "How long to collect remote state first")
	DocCmd.AddCommand(docPutCmd)
	DocCmd.AddCommand(docShowCmd)
}

// newReplica picks a fresh replica id; documents are rebuilt from relays on
// every run so ids need not be stable.
func newReplica() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// attachDocument binds a fresh replica of name to c and subscribes to its
// remote state.
func attachDocument(c *sync.Coordinator, name string) (*lwwmap.Doc, *sync.DocumentSync, error) {
	doc := lwwmap.New(newReplica())
	ds := sync.NewDocumentSync(c, name, doc, logger.ComponentLogger("doc"))
	if err := ds.Start(); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to subscribe to document %s", name)
	}
	return doc, ds, nil
}

func withDocument(cmd *cobra.Command, name string, fn func(context.Context, *sync.Coordinator, *lwwmap.Doc, *sync.DocumentSync) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	doc, ds, err := attachDocument(s.coord, name)
	if err != nil {
		return err
	}
	defer ds.Stop()

	time.Sleep(docWait)
	return fn(ctx, s.coord, doc, ds)
}

func runDocPut(cmd *cobra.Command, args []string) error {
	name, key, value := args[0], args[1], args[2]
	return withDocument(cmd, name, func(ctx context.Context, c *sync.Coordinator, doc *lwwmap.Doc, ds *sync.DocumentSync) error {
		doc.Set(key, []byte(value))
		before := relayStatuses(c)
		ev, err := ds.Publish(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to publish document %s", name)
		}
		if ev == nil {
			pterm.Warning.Printf("No relay reachable, %s queued\n", ds.Slot())
			return nil
		}
		waitForAcks(c, before, 1, ackTimeout)
		pterm.Success.Printf("Set %s in %s (%d keys)\n", key, name, len(doc.Keys()))
		return nil
	})
}

func runDocShow(cmd *cobra.Command, args []string) error {
	return withDocument(cmd, args[0], func(_ context.Context, _ *sync.Coordinator, doc *lwwmap.Doc, _ *sync.DocumentSync) error {
		for _, key := range doc.Keys() {
			value, _ := doc.Get(key)
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, value)
		}
		return nil
	})
}

// printDocumentChanges reports merges from other devices.
func printDocumentChanges(name string, doc *lwwmap.Doc) {
	doc.Observe(func(_ []byte, origin string) {
		if origin != crdt.OriginRemote {
			return
		}
		pterm.Info.Printf("%s merged from another device, %d keys\n", name, len(doc.Keys()))
	})
}
