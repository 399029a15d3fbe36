package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/sensorboot/sensorboot/pkg/config"
	"github.com/sensorboot/sensorboot/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a sensorboot workspace",
		Long: `Initialize a sensorboot workspace: the data directory, the run-history
database, a default configuration file, and an SSH keypair for remote
gateway bootstraps.`,
		Example: `  # Initialize in the current directory
  sensorboot init

  # Initialize with a custom config path
  sensorboot init --config /etc/sensorboot/sensorboot.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg := config.Default()
			path := configPath
			if path == "" {
				path = config.DefaultPath
			}

			log.Info().Str("config", path).Msg("Initializing workspace")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			// Step 1: Create directory structure
			dataDir := filepath.Dir(cfg.Store.Path)
			dirs := []string{
				dataDir,
				filepath.Join(dataDir, "keys"),
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			// Step 2: Initialize the run-history database
			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized run history database: %s\n", cfg.Store.Path)

			// Step 3: Write the default config file
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", path)

			// Step 4: Generate a default SSH key for remote bootstraps
			keyPath := filepath.Join(dataDir, "keys", "gateway-ed25519")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				if err := generateKeypair(keyPath); err != nil {
					return err
				}
				fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
			} else {
				fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
			}

			fmt.Println("\nWorkspace initialized. Run 'sensorboot up' to bootstrap the server.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

func generateKeypair(keyPath string) error {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	privKeyBlock, err := sshpkg.MarshalPrivateKey(privKey, "")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(privKeyBlock)
	if err := os.WriteFile(keyPath, privPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("failed to create SSH public key: %w", err)
	}
	pubBytes := sshpkg.MarshalAuthorizedKey(sshPubKey)
	if err := os.WriteFile(keyPath+".pub", pubBytes, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}
