package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"devserve/internal/adapter/logger"
	"devserve/internal/adapter/metrics"
	"devserve/internal/adapter/peer"
	"devserve/internal/adapter/platform"
	"devserve/internal/adapter/server"
	"devserve/internal/adapter/store"
	"devserve/internal/adapter/token"
	"devserve/internal/app"
	"devserve/internal/domain"
)

// globalOptions are shared by every command.
type globalOptions struct {
	root     string
	stateDir string
	verbose  bool
}

// serveOptions are the flags of the serve command.
type serveOptions struct {
	host         string
	port         int
	portSet      bool
	noReplace    bool
	noLiveReload bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	s := &serveOptions{}

	root := &cobra.Command{
		Use:   "devserve",
		Short: "Static dev server with live reload, one instance per project",
		Long: `Serve a project directory over HTTP with live reload.

Starting devserve in a root that already has a running instance asks the
old instance to shut down and takes over its port. Running with no
subcommand is the same as "devserve serve".

Settings resolve from flags, then environment (HOST, PORT,
DEV_SERVER_REPLACE, LIVE_RELOAD, DEVSERVE_STATE_DIR), then devserve.yaml
in the project root. A port given by --port or PORT is used as is: no
takeover and no search for a free port.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s.portSet = cmd.Flags().Changed("port")
			return runServe(cmd.Context(), g, s)
		},
	}
	root.PersistentFlags().StringVar(&g.root, "root", "", "project root to serve (default: cwd)")
	root.PersistentFlags().StringVar(&g.stateDir, "state-dir", "", "directory for instance records (default: system temp dir)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")
	addServeFlags(root, s)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the project root (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s.portSet = cmd.Flags().Changed("port")
			return runServe(cmd.Context(), g, s)
		},
	}
	addServeFlags(serveCmd, s)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the instance recorded for the project root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), g)
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the instance recorded for the project root to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStop(cmd.Context(), cmd.OutOrStdout(), g)
		},
	}

	root.AddCommand(serveCmd, statusCmd, stopCmd)
	return root
}

func addServeFlags(cmd *cobra.Command, s *serveOptions) {
	cmd.Flags().StringVar(&s.host, "host", "", "bind host (default: 127.0.0.1)")
	cmd.Flags().IntVarP(&s.port, "port", "p", 0, "bind port, 0 for any free port; disables takeover and port search (default: 4173)")
	cmd.Flags().BoolVar(&s.noReplace, "no-replace", false, "do not shut down a running instance for the same root")
	cmd.Flags().BoolVar(&s.noLiveReload, "no-live-reload", false, "disable file watching and page reloads")
}

// deps holds the adapters every command builds on.
type deps struct {
	plat *platform.Platform
	log  *logger.Stderr
	svc  *app.Service
}

func wire(g *globalOptions) (*deps, error) {
	log, err := logger.NewStderr(g.verbose)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	plat, err := platform.New(g.root)
	if err != nil {
		return nil, err
	}

	st := store.NewFileStore(plat.ResolveStateDir(g.stateDir), plat.Root())
	svc := app.NewService(
		st,
		peer.NewHTTPClient(),
		server.NewHTTPRunner(log),
		token.NewRandomGenerator(),
		metrics.NewPrometheus(),
		log,
	)
	return &deps{plat: plat, log: log, svc: svc}, nil
}

func runServe(ctx context.Context, g *globalOptions, s *serveOptions) error {
	d, err := wire(g)
	if err != nil {
		return err
	}
	defer func() { _ = d.log.Sync() }()

	var portFlag *int
	if s.portSet {
		portFlag = &s.port
	}
	port, explicit, err := d.plat.ResolvePort(portFlag)
	if err != nil {
		return err
	}

	cfg := app.Config{
		Root:         d.plat.Root(),
		Host:         d.plat.ResolveHost(s.host),
		Port:         port,
		PortExplicit: explicit,
		Replace:      d.plat.ReplaceEnabled(s.noReplace),
		LiveReload:   d.plat.LiveReloadEnabled(s.noLiveReload),
	}
	return d.svc.Run(ctx, cfg)
}

func runStatus(ctx context.Context, out io.Writer, g *globalOptions) error {
	d, err := wire(g)
	if err != nil {
		return err
	}
	defer func() { _ = d.log.Sync() }()

	entry, err := d.svc.Status(ctx)
	if errors.Is(err, domain.ErrNoRecord) {
		fmt.Fprintf(out, "No instance recorded for %s.\n", d.plat.Root())
		return nil
	}
	if err != nil {
		return err
	}

	status := "dead"
	if entry.Alive {
		status = "alive"
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOT\tURL\tPID\tSTATUS\tSTARTED\tRECORD")
	fmt.Fprintf(w, "%s\thttp://%s:%d/\t%d\t%s\t%s\t%s\n",
		entry.Record.Root, app.ConnectHost(entry.Record.Host), entry.Record.Port,
		entry.Record.PID, status, entry.Record.StartedAt.Local().Format(time.DateTime), entry.Path)
	return w.Flush()
}

func runStop(ctx context.Context, out io.Writer, g *globalOptions) error {
	d, err := wire(g)
	if err != nil {
		return err
	}
	defer func() { _ = d.log.Sync() }()

	outcome := d.svc.StopRecorded(ctx)
	switch outcome {
	case domain.OutcomeNoRecord:
		fmt.Fprintf(out, "No instance recorded for %s.\n", d.plat.Root())
	case domain.OutcomeReleased:
		fmt.Fprintln(out, "Stopped.")
	case domain.OutcomeUnreachable, domain.OutcomeRejected:
		fmt.Fprintln(out, "Recorded instance was not running; removed its record.")
	case domain.OutcomeStillBound:
		return fmt.Errorf("instance accepted shutdown but its port is still answering")
	default:
		fmt.Fprintf(out, "Nothing to stop (%s).\n", outcome)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "devserve: %v\n", err)
	os.Exit(1)
}
