package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/airlock-term/airlock/internal/backup"
	"github.com/airlock-term/airlock/internal/config"
)

// backupPasswordEnv supplies the backup password without a prompt.
const backupPasswordEnv = "AIRLOCK_BACKUP_PASSWORD"

// handleBackup dispatches backup subcommands
func handleBackup(args []string) int {
	if len(args) == 0 {
		printBackupHelp()
		return 1
	}

	switch args[0] {
	case "export":
		return handleBackupExport(args[1:])
	case "import", "restore":
		return handleBackupImport(args[1:])
	case "help", "--help", "-h":
		printBackupHelp()
		return 0
	default:
		fmt.Printf("Unknown backup command: %s\n", args[0])
		fmt.Println()
		printBackupHelp()
		return 1
	}
}

func printBackupHelp() {
	fmt.Println("Usage: airlock backup <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  export <file>     Write hosts and user themes to a password-protected file")
	fmt.Println("  import <file>     Replace hosts and merge themes from a backup file")
	fmt.Println()
	fmt.Println("Use \"-\" as the file to write to stdout or read from stdin.")
	fmt.Printf("The password is prompted for unless %s is set.\n", backupPasswordEnv)
}

func handleBackupExport(args []string) int {
	fs := flag.NewFlagSet("backup export", flag.ContinueOnError)
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	if fs.NArg() != 1 {
		out.Error("exactly one output file is required", ErrCodeInvalidOperation)
		return 1
	}
	target := fs.Arg(0)

	password, err := resolvePassword("", backupPasswordEnv, "Backup password: ")
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalidOperation)
		return 1
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	portable, err := state.hosts.Portable()
	if err != nil {
		out.Error(err.Error(), ErrCodeDecrypt)
		return 1
	}
	bundle := backup.Bundle{
		CreatedAt:     time.Now().UTC(),
		Hosts:         portable,
		Themes:        state.themes.User(),
		SelectedTheme: state.themes.Selected(),
	}

	payload, err := backup.Export(bundle, password)
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalidOperation)
		return 1
	}

	if target == "-" {
		_, err = os.Stdout.Write(append(payload, '\n'))
	} else {
		err = config.WriteFileAtomic(target, payload, 0o600)
	}
	if err != nil {
		out.Error(fmt.Sprintf("write backup: %v", err), ErrCodeStorage)
		return 1
	}

	if target == "-" {
		return 0
	}
	out.Success(fmt.Sprintf("Exported %d hosts and %d themes to %s", len(bundle.Hosts), len(bundle.Themes), FormatPath(target)),
		map[string]any{
			"success": true,
			"path":    target,
			"hosts":   len(bundle.Hosts),
			"themes":  len(bundle.Themes),
		})
	return 0
}

func handleBackupImport(args []string) int {
	fs := flag.NewFlagSet("backup import", flag.ContinueOnError)
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	if fs.NArg() != 1 {
		out.Error("exactly one backup file is required", ErrCodeInvalidOperation)
		return 1
	}
	source := fs.Arg(0)

	var payload []byte
	var err error
	if source == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(source)
	}
	if err != nil {
		out.Error(fmt.Sprintf("read backup: %v", err), ErrCodeNotFound)
		return 1
	}

	// With the payload on stdin the password has to come from the environment.
	password := os.Getenv(backupPasswordEnv)
	if password == "" && source != "-" {
		password, err = resolvePassword("", backupPasswordEnv, "Backup password: ")
		if err != nil {
			out.Error(err.Error(), ErrCodeInvalidOperation)
			return 1
		}
	}
	if password == "" {
		out.Error(fmt.Sprintf("%s must be set when reading from stdin", backupPasswordEnv), ErrCodeInvalidOperation)
		return 1
	}

	var bundle backup.Bundle
	if err := backup.Import(payload, password, &bundle); err != nil {
		code := ErrCodeDecrypt
		if errors.Is(err, backup.ErrInvalidFormat) {
			code = ErrCodeInvalidOperation
		}
		out.Error(err.Error(), code)
		return 1
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	if err := restoreBundle(state, bundle); err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}

	out.Success(fmt.Sprintf("Restored %d hosts and %d themes", len(bundle.Hosts), len(bundle.Themes)),
		map[string]any{
			"success": true,
			"hosts":   len(bundle.Hosts),
			"themes":  len(bundle.Themes),
		})
	return 0
}

// restoreBundle replaces the host inventory, merges user themes and
// restores the selected theme when it still exists.
func restoreBundle(state *appState, bundle backup.Bundle) error {
	if err := state.hosts.RestorePortable(bundle.Hosts); err != nil {
		return err
	}

	names := make([]string, 0, len(bundle.Themes))
	for name := range bundle.Themes {
		names = append(names, name)
	}
	sort.Strings(names)
	previous := state.themes.Selected()
	for _, name := range names {
		if err := state.themes.Import(name, bundle.Themes[name]); err != nil {
			return err
		}
	}

	selected := firstNonEmpty(bundle.SelectedTheme, previous)
	if !state.themes.Set(selected) {
		state.themes.Set(previous)
	}
	return nil
}
