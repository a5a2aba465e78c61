package jwttrust

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/finplat/jwt-trust/config"
	"github.com/finplat/jwt-trust/core"
)

// NewLogger builds a logrus logger writing to out at the configured level and
// format, wrapped as a core.Logger.
func NewLogger(cfg config.LogConfig, out io.Writer) (core.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)

	switch cfg.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json", "":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return core.NewLogrusLogger(l), nil
}
