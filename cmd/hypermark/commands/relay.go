package commands

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
	"github.com/teranos/hypermark/relay/devrelay"
)

// RelayCmd runs an in-memory development relay
var RelayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a local development relay",
	Long: `Run an in-memory relay for local testing. It keeps replaceable slots,
honours deletions, verifies signatures and forgets everything on exit.

Examples:
  hypermark relay --addr 127.0.0.1:7447
  HYPERMARK_RELAYS_URLS=ws://127.0.0.1:7447 hypermark sync`,
	RunE: runRelay,
}

var relayAddr string

func init() {
	RelayCmd.Flags().StringVar(&relayAddr, "addr", "127.0.0.1:7447", "Listen address")
}

func runRelay(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", relayAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", relayAddr)
	}

	r := devrelay.New(logger.ComponentLogger("devrelay"))
	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	pterm.Info.Printf("Dev relay listening on ws://%s\n", ln.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "relay server stopped")
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	r.DropClients()
	return srv.Shutdown(ctx)
}
