// Command beehive is the beekeeper-facing CLI for the hive: session
// lifecycle, task management, inter-bee messaging, and the supervisor
// daemon.
package main

import (
	"fmt"
	"os"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error (%s): %s\n", apperrors.CodeOf(err), errMessage(err))
		os.Exit(apperrors.ExitCodeOf(err))
	}
}

func errMessage(err error) string {
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
