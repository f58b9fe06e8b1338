package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawlink/internal/gateway"
	"github.com/nextlevelbuilder/clawlink/internal/identity"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration, identity and gateway connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			ok := true
			check := func(name string, err error) {
				if err != nil {
					ok = false
					fmt.Printf("✗ %-14s %v\n", name, err)
					return
				}
				fmt.Printf("✓ %-14s ok\n", name)
			}

			fmt.Printf("gateway url:   %s\nuser scope:    %s\nstorage:       %s\n\n",
				cfg.Gateway.URL, cfg.UserScope, cfg.Storage.Backend)

			keys := openKeyStore(cfg)
			probe := "clawlink:doctor:probe"
			err := keys.Set(probe, []byte("ok"))
			if err == nil {
				err = keys.Delete(probe)
			}
			check("storage", err)

			store := &identity.Store{Keys: keys, Seed: cfg.Identity.Seed}
			id, err := store.LoadOrCreate(cfg.UserScope)
			check("identity", err)
			if id != nil {
				fmt.Printf("  device id: %s\n", id.DeviceID)
			}

			client, _, err := buildClient(cfg)
			if err != nil {
				check("client", err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			start := time.Now()
			res, err := client.Dial(ctx)
			var pr *gateway.PairingRequiredError
			switch {
			case errors.As(err, &pr):
				ok = false
				fmt.Printf("✗ %-14s device not paired (code %s)\n", "gateway", pr.Code)
			case err != nil:
				ok = false
				fmt.Printf("✗ %-14s %v\n", "gateway", err)
			default:
				defer client.Close()
				fmt.Printf("✓ %-14s connected in %s (protocol v%d, role %s, scopes %s)\n",
					"gateway", time.Since(start).Round(time.Millisecond),
					res.Protocol, res.Role, strings.Join(res.Scopes, ","))
				if res.Server.Name != "" {
					fmt.Printf("  server: %s %s\n", res.Server.Name, res.Server.Version)
				}
			}

			if !ok {
				fatalf("one or more checks failed")
			}
		},
	}
}
