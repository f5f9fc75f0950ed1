package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/airlock-term/airlock/internal/hosts"
)

// handleHosts dispatches hosts subcommands
func handleHosts(args []string) int {
	if len(args) == 0 {
		return handleHostsList(nil)
	}

	switch args[0] {
	case "list", "ls":
		return handleHostsList(args[1:])
	case "add":
		return handleHostsAdd(args[1:])
	case "folder", "add-folder", "mkdir":
		return handleHostsAddFolder(args[1:])
	case "set", "update":
		return handleHostsUpdate(args[1:])
	case "remove", "rm":
		return handleHostsRemove(args[1:])
	case "search", "find":
		return handleHostsSearch(args[1:])
	case "help", "--help", "-h":
		printHostsHelp()
		return 0
	default:
		fmt.Printf("Unknown hosts command: %s\n", args[0])
		fmt.Println()
		printHostsHelp()
		return 1
	}
}

func printHostsHelp() {
	fmt.Println("Usage: airlock hosts <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list                 List saved hosts and folders")
	fmt.Println("  add <name>           Save a new SSH host")
	fmt.Println("  folder <name>        Create a folder")
	fmt.Println("  set <id>             Change fields of a host or folder")
	fmt.Println("  rm <id>              Remove a host, or a folder and everything in it")
	fmt.Println("  search <query>       Fuzzy search hosts by name, address and user")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  airlock hosts add web1 --host 10.0.0.5 --user deploy --key ~/.ssh/id_ed25519")
	fmt.Println("  airlock hosts add db --host db.internal --user admin --password --parent <folder-id>")
	fmt.Println("  airlock hosts folder production")
	fmt.Println("  airlock hosts set <id> --port 2222")
	fmt.Println("  airlock hosts search prod --json")
}

// hostJSON is the CLI's view of a host. Passwords never leave the store.
type hostJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	ParentID       string `json:"parentId,omitempty"`
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username,omitempty"`
	HasPassword    bool   `json:"hasPassword,omitempty"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
}

func toHostJSON(h hosts.Host) hostJSON {
	return hostJSON{
		ID:             h.ID,
		Name:           h.Name,
		Type:           h.Type,
		ParentID:       h.ParentID,
		Host:           h.Host,
		Port:           h.Port,
		Username:       h.Username,
		HasPassword:    h.EncryptedPassword != "",
		PrivateKeyPath: h.PrivateKeyPath,
	}
}

func outputFlags(fs *flag.FlagSet) (jsonOutput, quiet *bool) {
	jsonOutput = fs.Bool("json", false, "Output as JSON")
	quiet = fs.Bool("quiet", false, "Minimal output")
	fs.BoolVar(quiet, "q", false, "Minimal output (short)")
	return jsonOutput, quiet
}

func handleHostsList(args []string) int {
	fs := flag.NewFlagSet("hosts list", flag.ContinueOnError)
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

	all, err := state.hosts.List()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}

	items := make([]hostJSON, 0, len(all))
	for _, h := range all {
		items = append(items, toHostJSON(h))
	}
	if len(all) == 0 {
		out.Print("No saved hosts.\n", items)
		return 0
	}
	out.Print(renderHostTree(all), items)
	return 0
}

// renderHostTree formats hosts as a table, indenting children under their
// folder. Entries whose parent is missing are shown at the top level.
func renderHostTree(all []hosts.Host) string {
	byID := make(map[string]bool, len(all))
	children := make(map[string][]hosts.Host)
	for _, h := range all {
		byID[h.ID] = true
	}
	for _, h := range all {
		parent := h.ParentID
		if !byID[parent] {
			parent = ""
		}
		children[parent] = append(children[parent], h)
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(
		padRight("NAME", tableColName) + " " +
			padRight("TARGET", tableColTarget) + " " +
			padRight("USER", tableColUser) + " ID"))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", tableColName+tableColTarget+tableColUser+tableColID+3))
	b.WriteString("\n")

	hostCount := 0
	seen := make(map[string]bool, len(all))
	var walk func(parent string, depth int)
	walk = func(parent string, depth int) {
		for _, h := range children[parent] {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			indent := strings.Repeat("  ", depth)
			if h.IsFolder() {
				name := padRight(truncate(indent+folderSymbol+" "+h.Name, tableColName), tableColName)
				fmt.Fprintf(&b, "%s %s %s %s\n",
					folderStyle.Render(name),
					padRight("", tableColTarget),
					padRight("", tableColUser),
					dimStyle.Render(TruncateID(h.ID)))
				walk(h.ID, depth+1)
				continue
			}
			hostCount++
			target := h.Host
			if h.Port > 0 && h.Port != 22 {
				target = fmt.Sprintf("%s:%d", h.Host, h.Port)
			}
			fmt.Fprintf(&b, "%s %s %s %s\n",
				padRight(truncate(indent+bulletSymbol+" "+h.Name, tableColName), tableColName),
				padRight(truncate(target, tableColTarget), tableColTarget),
				padRight(truncate(h.Username, tableColUser), tableColUser),
				dimStyle.Render(TruncateID(h.ID)))
		}
	}
	walk("", 0)
	fmt.Fprintf(&b, "\nTotal: %d hosts\n", hostCount)
	return b.String()
}

func handleHostsAdd(args []string) int {
	fs := flag.NewFlagSet("hosts add", flag.ContinueOnError)
	host := fs.String("host", "", "Hostname or IP address (required)")
	port := fs.Int("port", 22, "SSH port")
	user := fs.String("user", "", "SSH username")
	parent := fs.String("parent", "", "Folder id to add the host to")
	key := fs.String("key", "", "Path to a private key")
	askPassword := fs.Bool("password", false, "Prompt for a password to store encrypted")
	jsonOutput, quiet := outputFlags(fs)

	fs.Usage = func() {
		fmt.Println("Usage: airlock hosts add <name> --host <address> [options]")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	name := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if name == "" {
		name = *host
	}
	if *host == "" {
		out.Error("--host is required", ErrCodeInvalidOperation)
		return 1
	}

	var password string
	if *askPassword {
		pw, err := readPassword("Password: ")
		if err != nil {
			out.Error(err.Error(), ErrCodeInvalidOperation)
			return 1
		}
		password = pw
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	h, err := state.hosts.AddHost(hosts.HostInput{
		Name:           name,
		ParentID:       *parent,
		Host:           *host,
		Port:           *port,
		Username:       *user,
		Password:       password,
		PrivateKeyPath: *key,
	})
	if err != nil {
		out.Error(err.Error(), hostsErrorCode(err))
		return 1
	}
	out.Success(fmt.Sprintf("Added host %s (%s)", h.Name, TruncateID(h.ID)), toHostJSON(h))
	return 0
}

func handleHostsAddFolder(args []string) int {
	fs := flag.NewFlagSet("hosts folder", flag.ContinueOnError)
	parent := fs.String("parent", "", "Parent folder id")
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	name := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if name == "" {
		out.Error("folder name is required", ErrCodeInvalidOperation)
		return 1
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	f, err := state.hosts.AddFolder(name, *parent)
	if err != nil {
		out.Error(err.Error(), hostsErrorCode(err))
		return 1
	}
	out.Success(fmt.Sprintf("Created folder %s (%s)", f.Name, TruncateID(f.ID)), toHostJSON(f))
	return 0
}

func handleHostsUpdate(args []string) int {
	fs := flag.NewFlagSet("hosts set", flag.ContinueOnError)
	name := fs.String("name", "", "New name")
	host := fs.String("host", "", "New hostname or IP address")
	port := fs.Int("port", 0, "New SSH port")
	user := fs.String("user", "", "New SSH username")
	parent := fs.String("parent", "", "Move under this folder id (use \"/\" for top level)")
	key := fs.String("key", "", "New private key path")
	askPassword := fs.Bool("password", false, "Prompt for a new password (empty clears it)")
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	if fs.NArg() != 1 {
		out.Error("exactly one host id is required", ErrCodeInvalidOperation)
		return 1
	}
	id := fs.Arg(0)

	// Only flags given on the command line are applied.
	var u hosts.HostUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			u.Name = name
		case "host":
			u.Host = host
		case "port":
			u.Port = port
		case "user":
			u.Username = user
		case "key":
			u.PrivateKeyPath = key
		case "parent":
			p := *parent
			if p == "/" {
				p = ""
			}
			u.ParentID = &p
		}
	})
	if *askPassword {
		pw, err := readPassword("New password: ")
		if err != nil {
			out.Error(err.Error(), ErrCodeInvalidOperation)
			return 1
		}
		u.Password = &pw
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	existing, err := state.hosts.Get(id)
	if err != nil {
		out.Error(err.Error(), hostsErrorCode(err))
		return 1
	}

	var changed bool
	if existing.IsFolder() {
		if u.Name == nil {
			out.Error("folders only support --name", ErrCodeInvalidOperation)
			return 1
		}
		changed, err = state.hosts.UpdateFolder(id, *u.Name)
	} else {
		changed, err = state.hosts.UpdateHost(id, u)
	}
	if err != nil {
		out.Error(err.Error(), hostsErrorCode(err))
		return 1
	}
	if !changed {
		out.Error(fmt.Sprintf("'%s' was not updated", id), ErrCodeInvalidOperation)
		return 1
	}

	updated, err := state.hosts.Get(id)
	if err != nil {
		out.Error(err.Error(), hostsErrorCode(err))
		return 1
	}
	out.Success(fmt.Sprintf("Updated %s", updated.Name), toHostJSON(updated))
	return 0
}

func handleHostsRemove(args []string) int {
	fs := flag.NewFlagSet("hosts rm", flag.ContinueOnError)
	jsonOutput, quiet := outputFlags(fs)
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return exitForParse(err)
	}
	out := NewCLIOutput(*jsonOutput, *quiet)

	if fs.NArg() == 0 {
		out.Error("host id is required", ErrCodeInvalidOperation)
		return 1
	}

	state, err := openState()
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}
	defer state.Close()

	total := 0
	for _, id := range fs.Args() {
		n, err := state.hosts.Remove(id)
		if err != nil {
			out.Error(err.Error(), hostsErrorCode(err))
			return 1
		}
		total += n
	}
	out.Success(fmt.Sprintf("Removed %d entries", total), map[string]any{
		"success": true,
		"removed": total,
	})
	return 0
}

func handleHostsSearch(args []string) int {
	fs := flag.NewFlagSet("hosts search", flag.ContinueOnError)
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

	found, err := state.hosts.Search(strings.Join(fs.Args(), " "))
	if err != nil {
		out.Error(err.Error(), ErrCodeStorage)
		return 1
	}

	items := make([]hostJSON, 0, len(found))
	var b strings.Builder
	for _, h := range found {
		items = append(items, toHostJSON(h))
		fmt.Fprintf(&b, "%s %s %s\n",
			padRight(truncate(h.Name, tableColName), tableColName),
			padRight(truncate(h.Username+"@"+h.Host, tableColTarget), tableColTarget),
			dimStyle.Render(TruncateID(h.ID)))
	}
	if len(found) == 0 {
		b.WriteString("No matching hosts.\n")
	}
	out.Print(b.String(), items)
	return 0
}

func hostsErrorCode(err error) string {
	switch {
	case errors.Is(err, hosts.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, hosts.ErrInvalidParent):
		return ErrCodeInvalidOperation
	default:
		return ErrCodeStorage
	}
}

// exitForParse maps a flag parse error to an exit code. The flag set has
// already printed the problem and usage.
func exitForParse(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 2
}
