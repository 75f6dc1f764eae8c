package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/plan"
	"github.com/bilalbayram/adplan/internal/publish"
)

type reportFlags struct {
	profile string
	asOf    string
	windows string
	format  string
	publish bool
}

func NewReportCommand(runtime Runtime) *cobra.Command {
	flags := &reportFlags{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the action plan for a profile from stored metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, runtime, flags)
		},
	}
	cmd.Flags().StringVar(&flags.profile, "profile", "", "Profile to report on (default: default_profile)")
	cmd.Flags().StringVar(&flags.asOf, "as-of", "", "Last day of every window, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&flags.windows, "windows", "", "Comma-separated window lengths in days (default: 7,14,30)")
	cmd.Flags().StringVar(&flags.format, "format", "json", "Report format: json|markdown")
	cmd.Flags().BoolVar(&flags.publish, "publish", false, "Upload the report to publish.s3_bucket")
	return cmd
}

func runReport(cmd *cobra.Command, runtime Runtime, flags *reportFlags) error {
	const commandName = "adplan report"

	cfg, err := runtime.loadConfig()
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, err)
	}
	format := strings.ToLower(strings.TrimSpace(flags.format))
	if format != "json" && format != "markdown" {
		return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, fmt.Errorf("invalid --format %q; expected json|markdown", flags.format)))
	}
	if flags.publish && strings.TrimSpace(cfg.Publish.S3Bucket) == "" {
		return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeConfig, errors.New("--publish requires publish.s3_bucket")))
	}
	_, profile, err := cfg.ResolveProfile(flags.profile)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, err))
	}
	req := plan.ReportRequest{AccountID: profile.AccountID}
	if strings.TrimSpace(flags.asOf) != "" {
		req.AsOf, err = domain.ParseDate(flags.asOf)
		if err != nil {
			return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, fmt.Errorf("invalid --as-of: %w", err)))
		}
	}
	req.Windows, err = plan.ParseWindowLengths(flags.windows)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, err))
	}

	logger, err := runtime.logger(cmd, cfg)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, err)
	}
	ctx := cmd.Context()
	s, err := runtime.openStore(ctx, cfg, false)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, err)
	}
	defer s.Close()
	provider, closeCatalog := catalogProvider(cfg, logger)
	defer closeCatalog()

	service := plan.NewService(s, provider, logger, nil)
	if runtime.Now != nil {
		service.Now = runtime.Now
	}
	report, err := service.Build(ctx, req)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, err)
	}

	var markdown string
	if format == "markdown" || flags.publish {
		markdown, err = plan.RenderMarkdown(report)
		if err != nil {
			return writeCommandError(cmd, runtime, commandName, nil, err)
		}
	}

	if flags.publish {
		publisher, err := publish.NewS3Publisher(ctx, cfg.Publish.S3Bucket, cfg.Publish.S3Prefix, cfg.Publish.Region, logger)
		if err != nil {
			return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeConfig, err))
		}
		if _, err := publisher.Publish(ctx, report, markdown); err != nil {
			return writeCommandError(cmd, runtime, commandName, nil, err)
		}
	}

	if format == "markdown" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), markdown)
		return err
	}
	return writeSuccess(cmd, runtime, commandName, report, report.Errors)
}
