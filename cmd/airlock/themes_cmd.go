package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/airlock-term/airlock/internal/theme"
)

// handleThemes dispatches themes subcommands
func handleThemes(args []string) int {
	if len(args) == 0 {
		return handleThemesList(nil)
	}

	switch args[0] {
	case "list", "ls":
		return handleThemesList(args[1:])
	case "set", "use":
		return handleThemesSet(args[1:])
	case "show":
		return handleThemesShow(args[1:])
	case "import":
		return handleThemesImport(args[1:])
	case "help", "--help", "-h":
		printThemesHelp()
		return 0
	default:
		fmt.Printf("Unknown themes command: %s\n", args[0])
		fmt.Println()
		printThemesHelp()
		return 1
	}
}

func printThemesHelp() {
	fmt.Println("Usage: airlock themes <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list                   List builtin and user themes")
	fmt.Println("  set <name>             Select a theme, or \"system\" to follow the OS")
	fmt.Println("  show [name]            Print a theme's colours (default: current)")
	fmt.Println("  import <file> [name]   Add a user theme from an xterm.js-style JSON file")
}

func handleThemesList(args []string) int {
	fs := flag.NewFlagSet("themes list", flag.ContinueOnError)
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	names := state.themes.Names()
	user := state.themes.User()
	selected := state.themes.Selected()
	current, _ := state.themes.Current()

	var b strings.Builder
	for _, name := range names {
		marker := " "
		if name == current {
			marker = successStyle.Render("*")
		}
		suffix := ""
		if _, ok := user[name]; ok {
			suffix = dimStyle.Render(" (user)")
		}
		t, _ := state.themes.Get(name)
		fmt.Fprintf(&b, "%s %s %s%s\n", marker, swatch(t), name, suffix)
	}
	if selected == theme.SystemName {
		fmt.Fprintf(&b, "\nFollowing system appearance (%s)\n", current)
	}

	out.Print(b.String(), map[string]any{
		"selected": selected,
		"current":  current,
		"names":    names,
	})
	return 0
}

// swatch renders the theme's eight normal colours as blocks.
func swatch(t theme.Theme) string {
	var b strings.Builder
	for _, c := range []string{t.Black, t.Red, t.Green, t.Yellow, t.Blue, t.Magenta, t.Cyan, t.White} {
		b.WriteString(lipgloss.NewStyle().Background(lipgloss.Color(c)).Render(" "))
	}
	return b.String()
}

func handleThemesSet(args []string) int {
	fs := flag.NewFlagSet("themes set", flag.ContinueOnError)
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	name := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if name == "" {
		out.Error("theme name is required", ErrCodeInvalidOperation)
		return 1
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	if !state.themes.Set(name) {
		out.Error(fmt.Sprintf("unknown theme '%s'", name), ErrCodeNotFound)
		return 1
	}
	current, _ := state.themes.Current()
	out.Success(fmt.Sprintf("Selected theme %s", name), map[string]any{
		"success":  true,
		"selected": name,
		"current":  current,
	})
	return 0
}

func handleThemesShow(args []string) int {
	fs := flag.NewFlagSet("themes show", flag.ContinueOnError)
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	name := strings.TrimSpace(strings.Join(fs.Args(), " "))
	var t theme.Theme
	if name == "" {
		name, t = state.themes.Current()
	} else {
		var ok bool
		if t, ok = state.themes.Get(name); !ok {
			out.Error(fmt.Sprintf("unknown theme '%s'", name), ErrCodeNotFound)
			return 1
		}
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalidOperation)
		return 1
	}
	out.Print(fmt.Sprintf("%s %s\n%s\n", headerStyle.Render(name), swatch(t), data), map[string]any{
		"name":  name,
		"theme": t,
	})
	return 0
}

func handleThemesImport(args []string) int {
	fs := flag.NewFlagSet("themes import", flag.ContinueOnError)
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	if fs.NArg() < 1 {
		out.Error("theme file is required", ErrCodeInvalidOperation)
		return 1
	}
	path := fs.Arg(0)
	name := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		out.Error(fmt.Sprintf("read theme: %v", err), ErrCodeNotFound)
		return 1
	}
	var t theme.Theme
	if err := json.Unmarshal(data, &t); err != nil {
		out.Error(fmt.Sprintf("parse theme: %v", err), ErrCodeInvalidOperation)
		return 1
	}
	if t.Background == "" || t.Foreground == "" {
		out.Error("theme needs at least background and foreground colours", ErrCodeInvalidOperation)
		return 1
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	if err := state.themes.Import(name, t); err != nil {
		out.Error(err.Error(), ErrCodeInvalidOperation)
		return 1
	}
	out.Success(fmt.Sprintf("Imported and selected theme %s", name), map[string]any{
		"success": true,
		"name":    name,
	})
	return 0
}
