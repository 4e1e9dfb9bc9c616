package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// Setup installs the global apex/log handler and level.
// Formats: text, json, cli, discard.
func Setup(level, format string, w io.Writer) error {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handler, err := newHandler(format, w)
	if err != nil {
		return err
	}

	log.SetHandler(handler)
	log.SetLevel(lvl)
	return nil
}

func newHandler(format string, w io.Writer) (log.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return text.New(w), nil
	case "json":
		return json.New(w), nil
	case "cli":
		return cli.New(w), nil
	case "discard":
		return discard.New(), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}
