package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawlink/internal/gateway"
)

func sessionsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage gateway sessions",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "machine-readable output")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions known to the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			withDialedClient(func(ctx context.Context, client *gateway.Client) error {
				listed, err := client.ListSessions(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(os.Stdout).Encode(listed)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tNAME\tUPDATED\tTOKENS (IN/OUT)")
				for _, s := range listed {
					updated := "-"
					if s.UpdatedAt > 0 {
						updated = time.UnixMilli(s.UpdatedAt).Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\n",
						s.Key, s.DisplayName, updated, s.InputTokens, s.OutputTokens)
				}
				return w.Flush()
			})
		},
	}

	rename := &cobra.Command{
		Use:   "rename KEY NAME",
		Short: "Set a session's display name",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withDialedClient(func(ctx context.Context, client *gateway.Client) error {
				if err := client.PatchSession(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
					return err
				}
				fmt.Printf("renamed %s\n", args[0])
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withDialedClient(func(ctx context.Context, client *gateway.Client) error {
				if err := client.DeleteSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, rename, del)
	return cmd
}

// withDialedClient runs fn against a connected client with a bounded
// call context, exiting on any error.
func withDialedClient(fn func(context.Context, *gateway.Client) error) {
	cfg := loadConfig()
	client, _, err := buildClient(cfg)
	if err != nil {
		fatalf("%v", err)
	}
	if _, err := client.Dial(context.Background()); err != nil {
		fatalf("connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fn(ctx, client); err != nil {
		fatalf("%v", err)
	}
}
