package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/relay"
	"github.com/teranos/hypermark/sync"
)

// StatusCmd connects once and reports per-relay state
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay connection status",
	Long: `Connect to every configured relay once and report the outcome, the number
of events waiting in the queue and the identity in use.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	st := s.coord.Status()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	return renderStatus(st)
}

func renderStatus(st sync.Status) error {
	pterm.DefaultSection.Println("hypermark status")
	fmt.Printf("Public key:    %s\n", st.PublicKey)
	fmt.Printf("Relays:        %d/%d connected\n", st.Connected, st.Total)
	fmt.Printf("Queued events: %d\n", st.Queued)
	fmt.Printf("Pending edits: %d\n\n", st.Pending)

	if len(st.Relays) == 0 {
		pterm.Warning.Println("No relays configured (see: hypermark am relay add)")
		return nil
	}

	rows := pterm.TableData{{"Relay", "State", "Retries", "Connected", "Last error"}}
	for _, r := range st.Relays {
		state := r.State
		switch {
		case r.Abandoned:
			state = pterm.Red(state + " (abandoned)")
		case r.State == relay.StateConnected.String():
			state = pterm.Green(state)
		default:
			state = pterm.Yellow(state)
		}
		since := ""
		if !r.ConnectedAt.IsZero() {
			since = r.ConnectedAt.Format(time.TimeOnly)
		}
		rows = append(rows, []string{r.URL, state, strconv.Itoa(r.RetryCount), since, r.LastError})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
