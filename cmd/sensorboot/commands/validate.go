package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensorboot/sensorboot/pkg/manifest"
	"github.com/sensorboot/sensorboot/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		manifestPath string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the dependency manifest",
		Long: `Parse the dependency manifest and evaluate it against the loaded
policies without installing anything or touching the environment.

The command exits non-zero when the manifest fails to parse or when an
error-severity policy violation is found.`,
		Example: `  # Validate the configured manifest
  sensorboot validate

  # Validate a specific manifest
  sensorboot validate --manifest requirements-prod.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if manifestPath != "" {
				cfg.Manifest = manifestPath
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			m, err := manifest.ParseFile(cfg.Manifest)
			if err != nil {
				return fmt.Errorf("manifest is invalid: %w", err)
			}

			fmt.Printf("Manifest %s: %d requirements\n", m.Path, len(m.Requirements))
			for i := range m.Requirements {
				r := &m.Requirements[i]
				pinned := ""
				if r.Pinned() {
					pinned = " (pinned)"
				}
				fmt.Printf("  %s%s%s\n", r.Name, r.Constraint, pinned)
			}

			engine, err := policy.NewEngine(cfg.Policy.DeniedPackages, logger)
			if err != nil {
				return fmt.Errorf("failed to build policy engine: %w", err)
			}
			if len(cfg.Policy.Paths) > 0 {
				if err := engine.LoadPolicyFiles(cfg.Policy.Paths); err != nil {
					return fmt.Errorf("failed to load policy files: %w", err)
				}
			}

			result, err := engine.Evaluate(cmd.Context(), m)
			if err != nil {
				return fmt.Errorf("policy evaluation failed: %w", err)
			}

			if len(result.Violations) == 0 {
				fmt.Println("\nNo policy violations.")
				return nil
			}

			fmt.Printf("\n%d policy violation(s):\n", len(result.Violations))
			for i := range result.Violations {
				v := &result.Violations[i]
				fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}

			if !result.Allowed {
				return fmt.Errorf("manifest has error-severity policy violations")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "dependency manifest path (overrides config)")

	return cmd
}
