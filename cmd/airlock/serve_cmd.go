package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/airlock-term/airlock/internal/config"
	"github.com/airlock-term/airlock/internal/hosts"
	"github.com/airlock-term/airlock/internal/logging"
	"github.com/airlock-term/airlock/internal/platform"
	"github.com/airlock-term/airlock/internal/session"
	"github.com/airlock-term/airlock/internal/tabs"
	"github.com/airlock-term/airlock/internal/web"
)

// serveOptions holds the parsed serve flags, already merged with config.
type serveOptions struct {
	listen   string
	token    string
	readOnly bool
}

// parseServeFlags parses serve flags on top of the [web] config section.
func parseServeFlags(args []string) (serveOptions, error) {
	ws := config.GetWebSettings()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listenAddr := fs.String("listen", ws.Listen, "Listen address for web server")
	readOnly := fs.Bool("read-only", ws.ReadOnly, "Run in read-only mode (layout commands and input disabled)")
	token := fs.String("token", ws.Token, "Bearer token for API/WS access")

	fs.Usage = func() {
		fmt.Println("Usage: airlock serve [options]")
		fmt.Println()
		fmt.Println("Start the layout and terminal server.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  airlock serve")
		fmt.Println("  airlock serve --listen 127.0.0.1:9000")
		fmt.Println("  airlock serve --read-only --token s3cret")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return serveOptions{}, err
	}
	if fs.NArg() > 0 {
		return serveOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return serveOptions{
		listen:   firstNonEmpty(*listenAddr, "127.0.0.1:8420"),
		token:    *token,
		readOnly: *readOnly,
	}, nil
}

func handleServe(args []string) int {
	opts, err := parseServeFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	state, err := openState()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open state: %v\n", err)
		return 1
	}
	defer state.Close()

	ssh := config.GetSSHSettings()
	var registry *tabs.Registry
	mgr := session.NewManager(session.Options{
		KnownHostsPath:        ssh.KnownHostsPath,
		InsecureIgnoreHostKey: ssh.InsecureIgnoreHostKey,
		DialTimeout:           ssh.DialTimeout(),
		OnExit: func(id string) {
			// A shell that exits on its own takes its pane with it.
			registry.RemovePane(id)
		},
	})
	registry = tabs.NewRegistry(mgr, tabs.WithLogger(logging.ForComponent(logging.CompLayout)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := state.themes.Watch(ctx, func() {
			cliLog.Info("themes_reloaded")
		}); err != nil {
			cliLog.Warn("theme_watch_failed", slog.String("error", err.Error()))
		}
	}()

	ws := config.GetWebSettings()
	server := web.NewServer(web.Config{
		ListenAddr:        opts.listen,
		ReadOnly:          opts.readOnly,
		Token:             opts.token,
		CommandsPerSecond: ws.CommandsPerSecond,
		CommandBurst:      ws.CommandBurst,
		Registry:          registry,
		Terminals:         mgr,
		Opener: &sessionOpener{
			sessions: mgr,
			hosts:    state.hosts,
			shell:    config.GetShellSettings().Program,
		},
		Themes: state.themes,
		Hosts:  state.hosts,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	fmt.Printf("Airlock listening on http://%s\n", opts.listen)
	if opts.readOnly {
		fmt.Println("Read-only mode: layout commands and terminal input are disabled")
	}
	cliLog.Info("server_started",
		slog.String("listen", opts.listen),
		slog.String("platform", platform.Detect().String()),
		slog.Bool("read_only", opts.readOnly),
		slog.Bool("auth", opts.token != ""))

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		cliLog.Warn("server_shutdown_failed", slog.String("error", err.Error()))
	}
	mgr.Close()
	cliLog.Info("server_stopped")
	return exitCode
}

// sessionStarter is the part of *session.Manager the opener needs.
type sessionStarter interface {
	OpenLocal(ctx context.Context, shell string, size session.Size) (string, error)
	OpenSSH(ctx context.Context, t session.Target, size session.Size) (string, error)
}

// hostSource is the part of *hosts.Inventory the opener needs.
type hostSource interface {
	Get(id string) (hosts.Host, error)
	DecryptedPassword(id string) (string, error)
}

// sessionOpener starts local shells and SSH sessions for new tabs and panes.
type sessionOpener struct {
	sessions sessionStarter
	hosts    hostSource
	shell    string
}

var (
	errHostRequired    = errors.New("ssh sessions need a host id")
	errFolderNotHost   = errors.New("cannot connect to a folder")
	errUnsupportedKind = errors.New("unsupported session kind")
)

func (o *sessionOpener) Open(ctx context.Context, req web.OpenRequest) (string, string, error) {
	size := session.Size{Cols: req.Cols, Rows: req.Rows}

	switch session.Kind(req.Kind) {
	case "", session.KindLocal:
		id, err := o.sessions.OpenLocal(ctx, o.shell, size)
		if err != nil {
			return "", "", err
		}
		return id, localLabel(o.shell), nil

	case session.KindSSH:
		if req.HostID == "" {
			return "", "", errHostRequired
		}
		h, err := o.hosts.Get(req.HostID)
		if err != nil {
			return "", "", err
		}
		if h.IsFolder() {
			return "", "", errFolderNotHost
		}
		password, err := o.hosts.DecryptedPassword(h.ID)
		if err != nil {
			return "", "", err
		}
		id, err := o.sessions.OpenSSH(ctx, session.Target{
			Host:           h.Host,
			Port:           h.Port,
			User:           h.Username,
			Password:       password,
			PrivateKeyPath: h.PrivateKeyPath,
		}, size)
		if err != nil {
			return "", "", err
		}
		return id, firstNonEmpty(h.Name, h.Host), nil
	}
	return "", "", fmt.Errorf("%w: %q", errUnsupportedKind, req.Kind)
}

func localLabel(shell string) string {
	shell = firstNonEmpty(shell, os.Getenv("SHELL"), "/bin/sh")
	return filepath.Base(shell)
}
