package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawlink/internal/gateway"
)

func pairCmd() *cobra.Command {
	var noQR bool

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Show this device's pairing code",
		Long: `Connect to the gateway and display the pairing code an operator
must approve before this device can authenticate. A QR code encoding
the approval payload is printed for phone-based approval flows.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			client, id, err := buildClient(cfg)
			if err != nil {
				fatalf("%v", err)
			}
			if id == nil {
				fatalf("pairing needs a device identity; remove identity.disabled from the config")
			}

			_, err = client.Dial(context.Background())
			if err == nil {
				client.Close()
				fmt.Println("Device is already paired and authenticated.")
				return
			}

			var pr *gateway.PairingRequiredError
			if !errors.As(err, &pr) {
				fatalf("connect: %v", err)
			}

			fmt.Printf("Pairing code: %s\nDevice ID:    %s\n\n", pr.Code, id.DeviceID)
			fmt.Println("Approve this device from the gateway host:")
			fmt.Printf("  clawlink devices approve %s\n", pr.Code)

			if !noQR {
				payload := fmt.Sprintf("clawlink:pair?code=%s&device=%s", pr.Code, id.DeviceID)
				qr, qerr := qrcode.New(payload, qrcode.Medium)
				if qerr != nil {
					fmt.Fprintf(os.Stderr, "qr render failed: %v\n", qerr)
					return
				}
				fmt.Println(qr.ToSmallString(false))
			}
		},
	}
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "skip the QR code")
	return cmd
}
