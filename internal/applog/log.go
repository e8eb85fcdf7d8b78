// Package applog provides the process-wide loggers used across the
// server. It mirrors the teacher's util/log.go: two package-global
// loggers that default to stdout/stderr and can be redirected to a
// file for long-running deployments.
package applog

import (
	"io"
	"os"

	"github.com/google/logger"
)

var (
	// Info carries request/delivery/projection progress messages.
	Info *logger.Logger = logger.Init("apsrv", false, false, os.Stdout)
	// Error carries failures: signature rejects, delivery failures,
	// repository errors.
	Error *logger.Logger = logger.Init("apsrv", false, false, os.Stderr)
)

// ToFile redirects both loggers to w, optionally still echoing to the
// system console (useful under systemd where stdout is already a log
// sink).
func ToFile(w io.Writer, alsoSystem bool) {
	Info.Close()
	Info = logger.Init("apsrv", false, alsoSystem, w)
	Error.Close()
	Error = logger.Init("apsrv", false, alsoSystem, w)
}
