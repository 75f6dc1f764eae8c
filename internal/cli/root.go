package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bilalbayram/adplan/internal/cli/cmd"
	"github.com/bilalbayram/adplan/internal/output"
)

const appName = "adplan"

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

type GlobalFlags struct {
	ConfigPath string
	Output     string
	Debug      bool
}

func Execute(ctx context.Context) error {
	root := NewRootCommand()
	return root.ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	flags := &GlobalFlags{}
	runtime := cmd.Runtime{
		ConfigPath: &flags.ConfigPath,
		Output:     &flags.Output,
		Debug:      &flags.Debug,
	}
	return newRootCommand(flags, runtime)
}

func newRootCommand(flags *GlobalFlags, runtime cmd.Runtime) *cobra.Command {
	root := &cobra.Command{
		Use:               appName,
		Short:             "Ad performance pipeline",
		Long:              "adplan syncs ad insights into a metrics store and turns them into per-item action plans.",
		Version:           Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: validateGlobalFlags(flags),
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Config file (default: ~/.adplan/config.yaml)")
	root.PersistentFlags().StringVar(&flags.Output, "output", "json", "Output format: json|jsonl|table|csv")
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")

	root.AddCommand(cmd.NewSyncCommand(runtime))
	root.AddCommand(cmd.NewReportCommand(runtime))
	root.AddCommand(cmd.NewServeCommand(runtime))
	root.AddCommand(cmd.NewProfileCommand(runtime))
	return root
}

func validateGlobalFlags(flags *GlobalFlags) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		if output.ValidFormat(flags.Output) {
			return nil
		}
		return WrapExit(ExitCodeInput, fmt.Errorf("invalid --output value %q; expected json|jsonl|table|csv", flags.Output))
	}
}
