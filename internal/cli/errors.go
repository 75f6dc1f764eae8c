package cli

import "github.com/bilalbayram/adplan/internal/cli/cmd"

const (
	ExitCodeUnknown = cmd.ExitCodeUnknown
	ExitCodeConfig  = cmd.ExitCodeConfig
	ExitCodeAuth    = cmd.ExitCodeAuth
	ExitCodeInput   = cmd.ExitCodeInput
	ExitCodeAPI     = cmd.ExitCodeAPI
	ExitCodeStore   = cmd.ExitCodeStore
)

// ExitError carries the process exit code of a failed command.
type ExitError = cmd.ExitError

func WrapExit(code int, err error) error {
	return cmd.WrapExit(code, err)
}
