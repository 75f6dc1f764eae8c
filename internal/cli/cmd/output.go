package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bilalbayram/adplan/internal/graph"
	"github.com/bilalbayram/adplan/internal/output"
)

func writeSuccess(cmd *cobra.Command, runtime Runtime, commandName string, data any, warnings []string) error {
	envelope := output.NewEnvelope(commandName, true, data, warnings, nil)
	return output.Write(cmd.OutOrStdout(), writeFormat(runtime), envelope)
}

// writeCommandError prints a failure envelope to stderr and returns err marked
// as printed. Data is kept so partial results are not lost.
func writeCommandError(cmd *cobra.Command, runtime Runtime, commandName string, data any, err error) error {
	if err == nil {
		return nil
	}
	errorInfo := &output.ErrorInfo{
		Type:    "error",
		Message: err.Error(),
	}
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		errorInfo.Type = apiErr.Type
		errorInfo.Code = apiErr.Code
		errorInfo.ErrorSubcode = apiErr.ErrorSubcode
		errorInfo.StatusCode = apiErr.StatusCode
		errorInfo.FBTraceID = apiErr.FBTraceID
		errorInfo.Retryable = apiErr.Retryable
	}

	exitErr := &ExitError{Code: ExitCodeUnknown, Err: err}
	var coded *ExitError
	if errors.As(err, &coded) {
		exitErr.Code = coded.Code
	} else if apiErr != nil {
		exitErr.Code = ExitCodeAPI
	}

	format := writeFormat(runtime)
	if format == "table" || format == "csv" {
		format = "json"
	}
	envelope := output.NewEnvelope(commandName, false, data, nil, errorInfo)
	if writeErr := output.Write(cmd.ErrOrStderr(), format, envelope); writeErr != nil {
		exitErr.Err = fmt.Errorf("%w (secondary output error: %v)", err, writeErr)
		return exitErr
	}
	exitErr.Printed = true
	return exitErr
}
