package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/nostr"
	"github.com/teranos/hypermark/sync"
)

// PublishCmd publishes one bookmark
var PublishCmd = &cobra.Command{
	Use:   "publish <id>",
	Short: "Publish a bookmark",
	Long: `Encrypt and publish a bookmark to every connected relay. With no relay
reachable the event is queued and sent by the next sync.

Examples:
  hypermark publish bm-1 --url https://example.com --title Example --tag go --tag nostr`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

// DeleteCmd publishes a deletion for one bookmark
var DeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a bookmark on every device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var (
	publishURL         string
	publishTitle       string
	publishDescription string
	publishTags        []string
	publishReadLater   bool
	ackTimeout         time.Duration
)

func init() {
	PublishCmd.Flags().StringVar(&publishURL, "url", "", "Bookmark URL (required)")
	PublishCmd.Flags().StringVar(&publishTitle, "title", "", "Title")
	PublishCmd.Flags().StringVar(&publishDescription, "description", "", "Description")
	PublishCmd.Flags().StringSliceVar(&publishTags, "tag", nil, "Tag (repeatable)")
	PublishCmd.Flags().BoolVar(&publishReadLater, "read-later", false, "Mark as read later")
	PublishCmd.MarkFlagRequired("url")

	for _, c := range []*cobra.Command{PublishCmd, DeleteCmd} {
		c.Flags().DurationVar(&ackTimeout, "ack-timeout", 5*time.Second, "How long to wait for relay OK replies")
	}
}

func runPublish(cmd *cobra.Command, args []string) error {
	now := time.Now().Unix()
	b := sync.Bookmark{
		URL:         publishURL,
		Title:       publishTitle,
		Description: publishDescription,
		Tags:        publishTags,
		ReadLater:   publishReadLater,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return publishWith(cmd, func(ctx context.Context, c *sync.Coordinator) (*nostr.Event, error) {
		return c.PublishBookmarkState(ctx, args[0], b)
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	return publishWith(cmd, func(ctx context.Context, c *sync.Coordinator) (*nostr.Event, error) {
		return c.PublishBookmarkDeletion(ctx, args[0])
	})
}

func publishWith(cmd *cobra.Command, publish func(context.Context, *sync.Coordinator) (*nostr.Event, error)) error {
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

	before := relayStatuses(s.coord)
	ev, err := publish(ctx, s.coord)
	if err != nil {
		return errors.Wrap(err, "publish failed")
	}
	if ev == nil {
		if cfg.Database.DurableQueue {
			pterm.Warning.Println("No relay reachable, queued for the next sync")
		} else {
			pterm.Warning.Println("No relay reachable and durable_queue is off, the event will be lost on exit")
		}
		return nil
	}

	waitForAcks(s.coord, before, 1, ackTimeout)
	for _, r := range s.coord.Status().Relays {
		prev := before[r.URL]
		switch {
		case r.Rejected > prev.Rejected:
			pterm.Error.Printf("%s rejected %s\n", r.URL, ev.ID)
		case r.Acked > prev.Acked:
			pterm.Success.Printf("%s accepted %s\n", r.URL, ev.ID)
		default:
			pterm.Warning.Printf("%s did not answer\n", r.URL)
		}
	}
	return nil
}
