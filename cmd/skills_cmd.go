package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawlink/internal/gateway"
)

func skillsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Show the gateway's skill inventory",
		Run: func(cmd *cobra.Command, args []string) {
			withDialedClient(func(ctx context.Context, client *gateway.Client) error {
				skills, err := client.SkillsStatus(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(os.Stdout).Encode(skills)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tENABLED\tSOURCE\tDESCRIPTION")
				for _, s := range skills {
					fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", s.Name, s.Enabled, s.Source, s.Description)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}
