package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/airlock-term/airlock/internal/config"
	"github.com/airlock-term/airlock/internal/logging"
)

const Version = "0.4.0"

// Table column widths for hosts output
const (
	tableColName   = 28
	tableColTarget = 32
	tableColUser   = 14
	tableColID     = 12
)

var cliLog = logging.ForComponent(logging.CompCLI)

func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal capabilities.
// Prefers TrueColor for best visuals, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// AIRLOCK_COLOR: truecolor, 256, 16, none
	if profile, ok := colorProfileFromEnv(os.Getenv("AIRLOCK_COLOR")); ok {
		lipgloss.SetColorProfile(profile)
		return
	}
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Known TrueColor-capable terminals
	termName := os.Getenv("TERM")
	for _, t := range []string{"xterm-256color", "screen-256color", "tmux-256color", "xterm-direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(termName, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}
	if os.Getenv("WT_SESSION") != "" || os.Getenv("ITERM_SESSION_ID") != "" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Fallback: Use ANSI256 for maximum compatibility
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func colorProfileFromEnv(value string) (termenv.Profile, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "truecolor", "true", "24bit":
		return termenv.TrueColor, true
	case "256", "ansi256":
		return termenv.ANSI256, true
	case "16", "ansi", "basic":
		return termenv.ANSI, true
	case "none", "off", "ascii":
		return termenv.Ascii, true
	}
	return termenv.Ascii, false
}

func main() {
	logging.Init(config.LoggingConfig())
	code := run(os.Args[1:])
	logging.Shutdown()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string) int {
	if len(args) == 0 {
		return handleServe(nil)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("Airlock v%s\n", Version)
		return 0
	case "help", "--help", "-h":
		printHelp()
		return 0
	case "serve", "web":
		return handleServe(args[1:])
	case "hosts", "host":
		return handleHosts(args[1:])
	case "backup":
		return handleBackup(args[1:])
	case "themes", "theme":
		return handleThemes(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		return 1
	}
}

func printHelp() {
	fmt.Printf("Airlock v%s\n", Version)
	fmt.Println("Tabbed, split-pane terminal sessions over the web")
	fmt.Println()
	fmt.Println("Usage: airlock [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none), serve    Start the layout and terminal server")
	fmt.Println("  hosts            Manage saved SSH hosts")
	fmt.Println("  backup           Export or import an encrypted backup")
	fmt.Println("  themes           List, select or import terminal themes")
	fmt.Println("  version          Show version")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  airlock serve --listen 127.0.0.1:9000")
	fmt.Println("  airlock hosts add web1 --host 10.0.0.5 --user deploy --password")
	fmt.Println("  airlock backup export airlock.backup")
	fmt.Println("  airlock themes set \"Solarized Dark\"")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  AIRLOCK_HOME              Data directory (default: ~/.airlock)")
	fmt.Println("  AIRLOCK_COLOR             Color mode: truecolor, 256, 16, none")
	fmt.Println("  AIRLOCK_BACKUP_PASSWORD   Backup password for non-interactive use")
}
