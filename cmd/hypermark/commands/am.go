package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/hypermark/am"
	"github.com/teranos/hypermark/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and manage hypermark configuration",
	Long: `am - Show and manage hypermark configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (HYPERMARK_* prefix, HYPERMARK_SYNC_SECRET for the secret)
2. Project config (nearest ./am.toml walking up)
3. User config (~/.hypermark/am.toml)
4. System config (/etc/hypermark/am.toml)
5. Default values

Examples:
  hypermark am show                       # Show current configuration
  hypermark am show --format json         # Show configuration as JSON
  hypermark am get sync.debounce_ms       # Get a single value
  hypermark am validate                   # Validate current configuration
  hypermark am where                      # Show where each value came from
  hypermark am relay add wss://nos.lol    # Add a relay to ~/.hypermark/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value using dot notation (e.g., sync.debounce_ms, relays.urls)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each configuration value is loaded from",
	RunE:  runAmWhere,
}

var amRelayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Add or remove relays in the user config",
}

var amRelayAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(cmd)
		if err := am.AddRelay(path, args[0]); err != nil {
			return err
		}
		pterm.Success.Printf("Added %s to %s\n", args[0], path)
		return nil
	},
}

var amRelayRemoveCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Remove a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(cmd)
		if err := am.RemoveRelay(path, args[0]); err != nil {
			return err
		}
		pterm.Success.Printf("Removed %s from %s\n", args[0], path)
		return nil
	},
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	amRelayCmd.AddCommand(amRelayAddCmd)
	amRelayCmd.AddCommand(amRelayRemoveCmd)

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amRelayCmd)
}

// renderConfig marshals cfg in the requested format. The secret is tagged
// out of every format.
func renderConfig(cfg *am.Config, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to JSON")
		}
		return append(data, '\n'), nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to YAML")
		}
		return append([]byte("# hypermark configuration\n"), data...), nil
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to TOML")
		}
		return append([]byte("# hypermark configuration\n"), data...), nil
	default:
		return nil, errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if key == "sync.secret" {
		return errors.New("the secret is never printed")
	}

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Println(am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := cfg.Secret(); err != nil {
		pterm.Warning.Printf("No usable secret: %v\n", err)
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  [DEFAULT]  built-in defaults")
	for _, candidate := range am.CascadePaths() {
		state := "missing"
		if _, err := os.Stat(candidate.Path); err == nil {
			state = "loaded"
		}
		fmt.Printf("  [%s]  %s (%s)\n", candidate.Source, candidate.Path, state)
	}
	fmt.Println("  [ENV]      HYPERMARK_* environment variables")
	fmt.Println()

	rows := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range intro.Settings {
		value := fmt.Sprintf("%v", s.Value)
		if len(value) > 50 {
			value = value[:47] + "..."
		}
		rows = append(rows, []string{s.Key, value, string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
