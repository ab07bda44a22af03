package commands

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/identity"
)

// IdentityCmd shows the identity derived from the shared secret
var IdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the identity derived from HYPERMARK_SYNC_SECRET",
	Long: `Derive the Nostr keypair from the shared secret and print its public forms.
Every device configured with the same secret prints the same npub.

Examples:
  hypermark identity
  hypermark identity --json
  hypermark identity decode npub1...`,
	RunE: runIdentity,
}

var identityDecodeCmd = &cobra.Command{
	Use:   "decode <npub>",
	Short: "Decode an npub into its hex public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := identity.DecodeNpub(args[0])
		if err != nil {
			return errors.Wrap(err, "not a valid npub")
		}
		fmt.Println(hex.EncodeToString(pub[:]))
		return nil
	},
}

func init() {
	IdentityCmd.AddCommand(identityDecodeCmd)
}

type identityInfo struct {
	Npub        string `json:"npub"`
	PublicKey   string `json:"public_key"`
	Fingerprint string `json:"secret_fingerprint"`
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	secret, err := cfg.Secret()
	if err != nil {
		return err
	}

	kp, err := identity.DeriveKeypair(secret)
	if err != nil {
		return errors.Wrap(err, "failed to derive identity")
	}
	fingerprint, err := identity.Fingerprint(secret)
	if err != nil {
		return err
	}

	info := identityInfo{Npub: kp.Npub, PublicKey: kp.PublicKeyHex(), Fingerprint: fingerprint}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("npub:        %s\n", info.Npub)
	fmt.Printf("public key:  %s\n", info.PublicKey)
	fmt.Printf("fingerprint: %s\n", info.Fingerprint)
	return nil
}
