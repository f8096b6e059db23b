// Package logging builds the process-wide zap logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// New returns a production JSON logger, or a development console logger when
// LOG_MODE=dev is set.
func New() (*zap.Logger, error) {
	if strings.EqualFold(os.Getenv("LOG_MODE"), "dev") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
