package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bilalbayram/adplan/internal/auth"
	"github.com/bilalbayram/adplan/internal/config"
)

type profileRow struct {
	Name         string `json:"name"`
	Default      bool   `json:"default"`
	AccountID    string `json:"account_id"`
	GraphVersion string `json:"graph_version"`
	TokenRef     string `json:"token_ref"`
	AppSecretRef string `json:"app_secret_ref,omitempty"`
	CatalogPath  string `json:"catalog_path,omitempty"`
}

func NewProfileCommand(runtime Runtime) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage account profiles and their secrets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return requireSubcommand(cmd, "profile")
		},
	}
	profileCmd.AddCommand(newProfileAddCommand(runtime))
	profileCmd.AddCommand(newProfileListCommand(runtime))
	profileCmd.AddCommand(newProfileSetSecretCommand(runtime))
	return profileCmd
}

func newProfileAddCommand(runtime Runtime) *cobra.Command {
	var (
		profile    config.Profile
		setDefault bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or replace a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const commandName = "adplan profile add"
			name := strings.TrimSpace(args[0])

			path, err := runtime.configPath()
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeConfig, err))
			}
			cfg, err := config.LoadOrCreate(path)
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeConfig, err))
			}
			if profile.TokenRef == "" {
				profile.TokenRef, err = auth.SecretRef(name, auth.SecretToken)
				if err != nil {
					return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, err))
				}
			}
			if err := cfg.UpsertProfile(name, profile); err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, err))
			}
			if setDefault {
				cfg.DefaultProfile = name
			}
			if err := config.Save(path, cfg); err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeConfig, err))
			}
			return writeSuccess(cmd, runtime, commandName, toProfileRow(cfg, name), nil)
		},
	}
	cmd.Flags().StringVar(&profile.AccountID, "account-id", "", "Ad account id, with or without act_")
	cmd.Flags().StringVar(&profile.GraphVersion, "graph-version", "", "Graph API version (default: "+config.DefaultGraphVersion+")")
	cmd.Flags().StringVar(&profile.TokenRef, "token-ref", "", "Token ref: keychain://... or env://VAR (default: keychain entry for the profile)")
	cmd.Flags().StringVar(&profile.AppSecretRef, "app-secret-ref", "", "App secret ref for appsecret_proof")
	cmd.Flags().StringVar(&profile.CatalogPath, "catalog", "", "Catalog snapshot file (.yaml or .json)")
	cmd.Flags().BoolVar(&setDefault, "default", false, "Make this the default profile")
	return cmd
}

func newProfileListCommand(runtime Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			const commandName = "adplan profile list"
			cfg, err := runtime.loadConfig()
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, err)
			}
			names := make([]string, 0, len(cfg.Profiles))
			for name := range cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)
			rows := make([]profileRow, 0, len(names))
			for _, name := range names {
				rows = append(rows, toProfileRow(cfg, name))
			}
			return writeSuccess(cmd, runtime, commandName, rows, nil)
		},
	}
}

func newProfileSetSecretCommand(runtime Runtime) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "set-secret <name>",
		Short: "Store a profile secret read from stdin in the OS keychain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const commandName = "adplan profile set-secret"
			cfg, err := runtime.loadConfig()
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, err)
			}
			name, profile, err := cfg.ResolveProfile(args[0])
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, err))
			}
			ref := profile.TokenRef
			if kind == auth.SecretAppSecret {
				ref = profile.AppSecretRef
			} else if kind != auth.SecretToken {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, fmt.Errorf("invalid --kind %q; expected %s|%s", kind, auth.SecretToken, auth.SecretAppSecret)))
			}
			if ref == "" {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, fmt.Errorf("profile %q has no %s ref", name, kind)))
			}

			value, err := readSecret(cmd)
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, err))
			}
			if err := runtime.secrets().Set(ref, value); err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeAuth, err))
			}
			return writeSuccess(cmd, runtime, commandName, map[string]any{
				"profile": name,
				"kind":    kind,
				"ref":     ref,
			}, nil)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", auth.SecretToken, "Secret kind: token|app_secret")
	return cmd
}

func readSecret(cmd *cobra.Command) (string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read secret from stdin: %w", err)
		}
		return "", errors.New("secret value is required on stdin")
	}
	value := strings.TrimSpace(scanner.Text())
	if value == "" {
		return "", errors.New("secret value is required on stdin")
	}
	return value, nil
}

func toProfileRow(cfg *config.Config, name string) profileRow {
	profile := cfg.Profiles[name]
	return profileRow{
		Name:         name,
		Default:      cfg.DefaultProfile == name,
		AccountID:    profile.AccountID,
		GraphVersion: profile.GraphVersion,
		TokenRef:     profile.TokenRef,
		AppSecretRef: profile.AppSecretRef,
		CatalogPath:  profile.CatalogPath,
	}
}
