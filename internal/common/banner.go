package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner to stderr.
func PrintBanner(config *Config, logger *Logger) {
	version := GetVersion()
	build := GetBuild()
	commit := GetGitCommit()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	backend := config.Storage.Backend
	if backend == "" {
		backend = "badger"
	}

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 70
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		` 888    d8P  8888888888 Y88b   d88P 888     888     d8888 888     888 888    88888888888`,
		` 888   d8P   888         Y88b d88P  888     888    d88888 888     888 888        888`,
		` 888  d8P    888          Y88o88P   888     888   d88P888 888     888 888        888`,
		` 888d88K     8888888       Y888P    Y88b   d88P  d88P 888 888     888 888        888`,
		` 8888888b    888            888      Y88b d88P  d88P  888 888     888 888        888`,
		` 888  Y88b   888            888       Y88o88P  d88P   888 888     888 888        888`,
		` 888   Y88b  888            888        Y888P  d8888888888 Y88b. .d88P 888        888`,
		` 888    Y88b 8888888888     888         Y8P  d88P     888  "Y88888P"  88888888   888`,
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s  Credential Vault & OAuth Lifecycle Manager%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	kvPad := 16
	kvLines := [][2]string{
		{"Version", version},
		{"Build", build},
		{"Commit", commit},
		{"Environment", config.Environment},
		{"Service URL", serviceURL},
		{"Storage", backend},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("commit", commit).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Str("storage_backend", backend).
		Msg("Application started")
}
