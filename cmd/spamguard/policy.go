package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"spamguard/internal/config"
	"spamguard/internal/policy"
	"spamguard/internal/storage"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and manage stored guild policies",
	}
	cmd.AddCommand(newPolicyShowCommand(), newPolicyExportCommand(), newPolicyImportCommand(), newPolicyResetCommand())
	return cmd
}

// withPolicies opens the database and loads every stored policy.
func withPolicies(ctx context.Context, fn func(cfg config.Config, store *storage.Store, policies *policy.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	policies := policy.NewStore(cfg.Policy, store, nil)
	stored, loadErr := store.LoadPolicies(ctx)
	if loadErr != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", loadErr)
	}
	if err := policies.Load(stored); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return fn(cfg, store, policies)
}

func newPolicyShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <guild-id>",
		Short: "Print the effective policy of a guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPolicies(cmd.Context(), func(_ config.Config, _ *storage.Store, policies *policy.Store) error {
				for _, f := range policies.Status(args[0]) {
					fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", f.Name, f.Value)
				}
				return nil
			})
		},
	}
}

func newPolicyExportCommand() *cobra.Command {
	var guildID, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored policies as JSON",
		Example: `  spamguard policy export --out policies.json
  spamguard policy export --guild 123456789012345678`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPolicies(cmd.Context(), func(_ config.Config, _ *storage.Store, policies *policy.Store) error {
				var docs []policy.Document
				if guildID != "" {
					docs = append(docs, policies.Get(guildID).Document())
				} else {
					for _, p := range policies.All() {
						docs = append(docs, p.Document())
					}
				}
				data, err := json.MarshalIndent(docs, "", "  ")
				if err != nil {
					return err
				}
				data = append(data, '\n')
				if out == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "export a single guild")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newPolicyImportCommand() *cobra.Command {
	var guildID string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load policies from an export or a legacy config.json",
		Long: `Load policies into the database.

The file may be a JSON array written by "policy export", a legacy file with
"defaults" and "guilds" sections, or a legacy flat file holding one set of
settings, which needs --guild.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			return withPolicies(cmd.Context(), func(cfg config.Config, store *storage.Store, _ *policy.Store) error {
				imported, err := decodePolicies(data, cfg.Policy, guildID)
				if err != nil {
					return err
				}
				for _, p := range imported {
					if err := store.SavePolicy(cmd.Context(), p); err != nil {
						return fmt.Errorf("guild %s: %w", p.GuildID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "imported guild %s\n", p.GuildID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "target guild for a legacy flat file")
	return cmd
}

// validateDefaults checks the configured defaults the same way a stored
// policy is checked, so bad env values fail at startup.
func validateDefaults(base config.PolicyConfig) error {
	if err := policy.Defaults("", base).Validate(); err != nil {
		return fmt.Errorf("policy defaults: %w", err)
	}
	return nil
}

// decodePolicies parses an export or a legacy file into validated policies.
func decodePolicies(data []byte, base config.PolicyConfig, guildID string) ([]policy.GuildPolicy, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var docs []policy.Document
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("decode export: %w", err)
		}
		out := make([]policy.GuildPolicy, 0, len(docs))
		for _, doc := range docs {
			p, err := doc.Policy()
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}

	legacy, err := policy.ParseLegacy(data, base)
	if err != nil {
		return nil, err
	}
	ids := legacy.GuildIDs()
	if legacy.Flat || guildID != "" {
		if guildID == "" {
			return nil, errors.New("flat legacy file: --guild is required")
		}
		ids = []string{guildID}
	}
	out := make([]policy.GuildPolicy, 0, len(ids))
	for _, id := range ids {
		p, err := legacy.Policy(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func newPolicyResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <guild-id>",
		Short: "Delete a guild's stored policy so it falls back to the defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPolicies(cmd.Context(), func(_ config.Config, store *storage.Store, _ *policy.Store) error {
				if err := store.DeletePolicy(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "guild %s reset to defaults\n", args[0])
				return nil
			})
		},
	}
}
