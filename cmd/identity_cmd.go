package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawlink/internal/authstore"
	"github.com/nextlevelbuilder/clawlink/internal/identity"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect or reset the device identity",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the device ID and public key",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			store := &identity.Store{Keys: openKeyStore(cfg), Seed: cfg.Identity.Seed}
			id, err := store.LoadOrCreate(cfg.UserScope)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("device id:  %s\npublic key: %s\n",
				id.DeviceID, base64.StdEncoding.EncodeToString(id.PublicKey))
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete the device keypair and cached gateway tokens",
		Long: `Delete the device keypair for the current user scope. The gateway
will treat the next connection as a new, unpaired device. Cached device
tokens are invalidated alongside the keypair.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			keys := openKeyStore(cfg)
			store := &identity.Store{Keys: keys, Seed: cfg.Identity.Seed}

			id, err := store.LoadOrCreate(cfg.UserScope)
			if err != nil {
				fatalf("%v", err)
			}
			tokens := &authstore.Cache{Keys: keys, UserScope: cfg.UserScope}
			if err := tokens.Invalidate(id.DeviceID, cfg.Gateway.Role); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: token cleanup failed: %v\n", err)
			}
			if err := store.Delete(cfg.UserScope); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("identity %s deleted\n", id.DeviceID[:12])
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}
