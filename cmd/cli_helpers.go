package cmd

import (
	"fmt"
	"os"

	"github.com/nextlevelbuilder/clawlink/internal/authstore"
	"github.com/nextlevelbuilder/clawlink/internal/config"
	"github.com/nextlevelbuilder/clawlink/internal/gateway"
	"github.com/nextlevelbuilder/clawlink/internal/identity"
	"github.com/nextlevelbuilder/clawlink/internal/keystore"
	"github.com/nextlevelbuilder/clawlink/pkg/protocol"
)

// openKeyStore selects the client-local state backend from config.
func openKeyStore(cfg *config.Config) keystore.KeyStore {
	switch cfg.Storage.Backend {
	case "keyring":
		return keystore.NewKeyringStore()
	case "memory":
		return keystore.NewMemory()
	default:
		return keystore.NewFileStore(cfg.Storage.Dir)
	}
}

// clientOptions wires identity and the token cache into gateway
// options. The signer is nil when device signing is disabled.
func clientOptions(cfg *config.Config) (gateway.Options, *identity.DeviceIdentity, error) {
	keys := openKeyStore(cfg)

	var signer identity.Signer
	var dev *identity.DeviceIdentity
	if !cfg.Identity.Disabled {
		store := &identity.Store{Keys: keys, Seed: cfg.Identity.Seed}
		id, err := store.LoadOrCreate(cfg.UserScope)
		if err != nil {
			return gateway.Options{}, nil, fmt.Errorf("device identity: %w", err)
		}
		dev = id
		signer = identity.NewDeviceSigner(id)
	}

	return gateway.Options{
		URL:        cfg.Gateway.URL,
		ClientID:   cfg.Gateway.ClientID,
		Mode:       protocol.ClientModeCLI,
		Role:       cfg.Gateway.Role,
		Scopes:     cfg.Gateway.Scopes,
		Token:      cfg.Gateway.Token,
		Password:   cfg.Gateway.Password,
		Signer:     signer,
		TokenCache: &authstore.Cache{Keys: keys, UserScope: cfg.UserScope},
	}, dev, nil
}

func buildClient(cfg *config.Config) (*gateway.Client, *identity.DeviceIdentity, error) {
	opts, dev, err := clientOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	return gateway.NewClient(opts), dev, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
