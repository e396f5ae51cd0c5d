// Command bot runs the hookrelay chat bot: it loads config, starts the
// configured drivers and relays slash commands until interrupted.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := run(); err != nil {
		slog.Error("hookrelay stopped", "service", serviceName, "error", err)
		os.Exit(1)
	}
}
