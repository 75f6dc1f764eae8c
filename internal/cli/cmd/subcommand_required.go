package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// subcommandRequiredError is returned by command groups run without a
// subcommand, after their usage has been printed to stderr.
type subcommandRequiredError struct {
	name string
}

func (e *subcommandRequiredError) Error() string {
	return e.name + " requires a subcommand"
}

func (e *subcommandRequiredError) AlreadyPrinted() bool {
	return true
}

func requireSubcommand(cmd *cobra.Command, name string) error {
	err := &subcommandRequiredError{name: name}
	stderr := cmd.ErrOrStderr()
	_, _ = fmt.Fprintln(stderr, err.Error())
	_, _ = fmt.Fprint(stderr, cmd.UsageString())
	return err
}
