// Package main provides the authbridge command: it logs in against a backend,
// manages the stored sessions and issues authenticated requests with them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/joho/godotenv"
	"github.com/router-for-me/AuthBridge/internal/buildinfo"
	"github.com/router-for-me/AuthBridge/internal/config"
	"github.com/router-for-me/AuthBridge/internal/logging"
	"github.com/router-for-me/AuthBridge/internal/tui"
	"github.com/router-for-me/AuthBridge/sdk/bridge"
	"github.com/router-for-me/AuthBridge/sdk/httpclient"
	"github.com/router-for-me/AuthBridge/sdk/session"
	"github.com/router-for-me/AuthBridge/sdk/tokens"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// copyToClipboard is replaced in tests.
var copyToClipboard = clipboard.WriteAll

type app struct {
	bridge   *bridge.Bridge[session.Profile]
	password string
	stdin    io.Reader
	stdout   io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "authbridge:", err)
		}
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		_, _ = fmt.Fprintf(out, "Usage: %s [flags] <command> [args]\n\nCommands:\n", fs.Name())
		_, _ = fmt.Fprint(out, `  login <user>            log in and store the session
  sessions                list stored sessions
  switch [index]          activate a session (interactive without index)
  logout [-all]           log out the active session, or all of them
  sync                    re-validate the active session with the backend
  get <url>               GET url with the active session's credentials
  download <url> <file>   stream url into file with a progress bar
  token [-copy]           print the active access token
  version                 print version information

Flags:
`)
		fs.VisitAll(func(f *flag.Flag) {
			if f.Name == "password" {
				return
			}
			_, _ = fmt.Fprintf(out, "  -%s\n    \t%s\n", f.Name, f.Usage)
		})
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("authbridge", flag.ContinueOnError)
	var configPath, password string
	fs.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	fs.StringVar(&password, "password", "", "")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	if rest[0] == "version" {
		_, err := fmt.Fprintln(stdout, buildinfo.String("AuthBridge"))
		return err
	}

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}
	if password == "" {
		password = os.Getenv("AUTHBRIDGE_PASSWORD")
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		return err
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		return err
	}
	b, err := bridge.FromConfig[session.Profile](ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := b.Close(context.Background()); errClose != nil {
			log.WithError(errClose).Warn("close bridge")
		}
	}()
	if err = b.WaitReady(ctx); err != nil {
		return err
	}

	a := &app{bridge: b, password: password, stdin: stdin, stdout: stdout}
	return a.dispatch(ctx, rest[0], rest[1:])
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "sessions":
		_, err := fmt.Fprint(a.stdout, tui.RenderSessions(a.bridge.State()))
		return err
	case "switch":
		return a.switchSession(args)
	case "logout":
		return a.logout(args)
	case "sync":
		return a.sync(ctx)
	case "get":
		return a.get(ctx, args)
	case "download":
		return a.download(ctx, args)
	case "token":
		return a.token(args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func outcomeError(out httpclient.Outcome) error {
	if out.OK() {
		return nil
	}
	return out.Err()
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: login <user>")
	}
	user := args[0]
	password := a.password
	if password == "" {
		var err error
		if password, err = tui.PromptPassword(user, a.stdin, a.stdout); err != nil {
			return err
		}
	}
	call, err := a.bridge.Login(ctx, user, password)
	if err != nil {
		return err
	}
	if err = outcomeError(call.Wait()); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !a.bridge.IsLoggedIn() {
		return errors.New("login: backend returned no profile")
	}
	_, err = fmt.Fprintf(a.stdout, "logged in as %s\n", user)
	return err
}

func (a *app) switchSession(args []string) error {
	var (
		index int
		err   error
	)
	switch len(args) {
	case 0:
		if index, err = tui.PickSession(a.bridge.State(), a.stdin, a.stdout); err != nil {
			return err
		}
	case 1:
		if index, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("switch: invalid index %q", args[0])
		}
	default:
		return errors.New("usage: switch [index]")
	}
	if err = a.bridge.SwitchActiveSession(index); err != nil {
		return err
	}
	active, _ := a.bridge.ActiveSession()
	_, err = fmt.Fprintf(a.stdout, "active session: %d (%s)\n", index, active.User())
	return err
}

func (a *app) logout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	all := fs.Bool("all", false, "log out every stored session")
	fs.SetOutput(a.stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *all {
		a.bridge.LogoutAllSessions()
		_, err := fmt.Fprintln(a.stdout, "logged out of all sessions")
		return err
	}
	active, ok := a.bridge.ActiveSession()
	if !ok {
		_, err := fmt.Fprintln(a.stdout, "no active session")
		return err
	}
	a.bridge.LogoutCurrentSession()
	_, err := fmt.Fprintf(a.stdout, "logged out %s\n", active.User())
	return err
}

func (a *app) sync(ctx context.Context) error {
	if !a.bridge.IsLoggedIn() {
		_, err := fmt.Fprintln(a.stdout, "no active session")
		return err
	}
	out, err := a.bridge.SyncWithServer(ctx)
	if err != nil {
		return err
	}
	if out.Status == httpclient.StatusSignedOut {
		_, err = fmt.Fprintln(a.stdout, "session expired, signed out")
		return err
	}
	if err = outcomeError(out); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	user, _ := a.bridge.CurrentUser()
	_, err = fmt.Fprintf(a.stdout, "session of %s is valid\n", user.Identity())
	return err
}

func (a *app) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <url>")
	}
	client, err := a.bridge.Client()
	if err != nil {
		return err
	}
	out := client.Get(ctx, args[0]).Wait()
	if err = outcomeError(out); err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if len(out.Data) == 0 {
		return nil
	}
	_, err = fmt.Fprintln(a.stdout, gjson.GetBytes(out.Data, "@pretty").Raw)
	return err
}

func (a *app) download(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: download <url> <file>")
	}
	client, err := a.bridge.Client()
	if err != nil {
		return err
	}
	dest := args[1]
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	out, err := tui.Download(ctx, client, args[0], filepath.Base(dest), tmp, a.stdout)
	if errClose := tmp.Close(); err == nil && errClose != nil {
		err = errClose
	}
	if err != nil {
		return err
	}
	if err = outcomeError(out); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

func (a *app) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	copyFlag := fs.Bool("copy", false, "copy the token to the clipboard instead of printing it")
	fs.SetOutput(a.stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	tok, err := a.bridge.TokenSource(context.Background()).Token()
	if errors.Is(err, tokens.ErrNoAccessToken) {
		return errors.New("token: no active session")
	}
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if *copyFlag {
		if err = copyToClipboard(tok.AccessToken); err != nil {
			return fmt.Errorf("token: %w", err)
		}
		_, err = fmt.Fprintln(a.stdout, "access token copied to clipboard")
		return err
	}
	_, err = fmt.Fprintln(a.stdout, tok.AccessToken)
	return err
}
