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
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/danmuck/dpapctl/internal/client"
	"github.com/danmuck/dpapctl/internal/config"
	"github.com/danmuck/dpapctl/internal/discovery"
	"github.com/danmuck/dpapctl/internal/library"
	"github.com/danmuck/dpapctl/internal/logging"
	"github.com/danmuck/dpapctl/internal/observability"
	"github.com/danmuck/dpapctl/internal/transport"
	"github.com/rs/zerolog/log"
)

const usage = `usage: dpapctl <command> [flags]

commands:
  browse   list photo servers advertised on the local network
  sync     log in, mirror every database and keep it current
  fetch    download one photo
  config   print the effective configuration
`

func main() {
	logging.ConfigureRuntime()
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "browse":
		err = runBrowse(ctx, os.Args[2:], os.Stdout)
	case "sync":
		err = runSync(ctx, os.Args[2:])
	case "fetch":
		err = runFetch(ctx, os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpapctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path when given, else returns defaults.
func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func commonFlags(fs *flag.FlagSet) (cfgPath, server, password *string) {
	cfgPath = fs.String("config", "", "path to config.toml")
	server = fs.String("server", "", "server host:port (overrides config)")
	password = fs.String("password", "", "server password (overrides config)")
	return
}

func applyOverrides(cfg *config.Config, server, password string) {
	if server != "" {
		cfg.Server = server
	}
	if password != "" {
		cfg.Password = password
	}
}

func runBrowse(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("browse", flag.ContinueOnError)
	cfgPath, _, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	services, err := discovery.Collect(ctx, discovery.NewBrowser(), cfg.DiscoveryTimeout)
	if err != nil {
		return err
	}
	return printServices(out, services)
}

func printServices(out io.Writer, services []discovery.Service) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tPASSWORD\tMACHINE ID")
	for _, s := range services {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Name, s.HostPort(), s.PasswordRequired, s.MachineID)
	}
	return tw.Flush()
}

// connect resolves the server and returns a logged-in client.
func connect(ctx context.Context, cfg config.Config) (*client.Client, error) {
	addr := cfg.Server
	if addr == "" {
		svc, err := discovery.First(ctx, discovery.NewBrowser(), cfg.DiscoveryTimeout)
		if err != nil {
			return nil, err
		}
		if svc.PasswordRequired && cfg.Password == "" {
			return nil, fmt.Errorf("%s requires a password", svc.Name)
		}
		log.Info().Str("name", svc.Name).Str("addr", svc.HostPort()).Msg("discovered server")
		addr = svc.HostPort()
	}

	tcfg := transport.DefaultConfig()
	tcfg.Address = addr
	tcfg.Username = cfg.Username
	tcfg.Password = cfg.Password
	tcfg.Timeout = cfg.RequestTimeout
	tcfg.RequestRate = cfg.RequestRate
	tcfg.RequestBurst = cfg.RequestBurst
	tr, err := transport.New(tcfg)
	if err != nil {
		return nil, err
	}

	ccfg := client.DefaultConfig()
	ccfg.Username = cfg.Username
	ccfg.Password = cfg.Password
	ccfg.MaxParallelRefresh = cfg.MaxParallelRefresh
	ccfg.ThumbnailCacheTTL = cfg.ThumbnailCacheTTL
	c := client.New(ccfg, tr)
	c.Subscribe(library.ObserverFunc(logEvent))
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func logEvent(e library.Event) {
	ev := log.Debug().Str("event", e.Kind.String())
	if e.Database != nil {
		ev = ev.Int32("db", e.Database.ID())
	}
	if e.Album != nil {
		ev = ev.Int32("album", e.Album.ID())
	}
	if e.Photo != nil {
		ev = ev.Int32("photo", e.Photo.ID).Str("title", e.Photo.Title)
	}
	ev.Msg("mirror change")
}

func runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	cfgPath, server, password := commonFlags(fs)
	noAdmin := fs.Bool("no-admin", false, "do not start the admin server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, *server, *password)

	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	for _, s := range c.Status().Databases {
		log.Info().Int32("db", s.ID).Str("name", s.Name).Int("photos", s.PhotoCount).Int("albums", len(s.Albums)).Msg("database mirrored")
	}

	r := c.StartRefresher(ctx, client.RefresherConfig{
		PollInterval: cfg.PollInterval,
		Backoff:      client.BackoffConfig{Base: cfg.RetryInterval, Factor: 1},
	})

	adminErr := make(chan error, 1)
	if !*noAdmin && cfg.AdminAddr != "" {
		admin := observability.NewAdmin(
			observability.AdminConfig{Addr: cfg.AdminAddr, Name: "dpapctl", CorsOrigins: cfg.CorsOrigins},
			func() any { return c.Status() },
			func() bool {
				st := c.State()
				return st == client.StateReady || st == client.StateRefreshing
			},
		)
		go func() { adminErr <- admin.Serve(ctx) }()
	}

	select {
	case <-ctx.Done():
	case <-r.Done():
		log.Warn().Err(r.Err()).Msg("refresher exited")
	case err := <-adminErr:
		if err != nil {
			log.Error().Err(err).Msg("admin server failed")
		}
	}
	r.Stop()

	logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if err := c.Logout(logoutCtx); err != nil && !errors.Is(err, client.ErrNotLoggedIn) {
		return err
	}
	return nil
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	cfgPath, server, password := commonFlags(fs)
	dbID := fs.Int("db", 0, "database id (default: first database)")
	photoID := fs.Int("photo", 0, "photo id")
	thumb := fs.Bool("thumb", false, "download the thumbnail instead of the full image")
	output := fs.String("output", "", "output path (default: the photo's file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *photoID <= 0 {
		return errors.New("fetch: -photo is required")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, *server, *password)

	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Logout(context.Background())

	db, err := pickDatabase(c.Databases(), int32(*dbID))
	if err != nil {
		return err
	}
	p := db.LookupPhoto(int32(*photoID))
	if p == nil {
		return fmt.Errorf("fetch: photo %d not in database %d", *photoID, db.ID())
	}

	res := client.Hires
	if *thumb {
		res = client.Thumbnail
	}
	rc, size, err := c.FetchPhoto(ctx, db, p, res, 0)
	if err != nil {
		return err
	}
	defer rc.Close()

	path := outputPath(*output, p, *thumb)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("fetch: write %s: %w", path, err)
	}
	log.Info().Str("path", path).Int64("bytes", n).Int64("declared", size).Msg("photo saved")
	return nil
}

func pickDatabase(dbs []*library.Database, id int32) (*library.Database, error) {
	if len(dbs) == 0 {
		return nil, errors.New("server has no databases")
	}
	if id == 0 {
		return dbs[0], nil
	}
	for _, db := range dbs {
		if db.ID() == id {
			return db, nil
		}
	}
	return nil, fmt.Errorf("database %d not found", id)
}

// outputPath picks where fetch writes. A server-supplied file name is
// reduced to its base name so it cannot escape the working directory.
func outputPath(explicit string, p *library.Photo, thumb bool) string {
	if explicit != "" {
		return explicit
	}
	name := filepath.Base(filepath.FromSlash(strings.ReplaceAll(p.FileName, "\\", "/")))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		name = strconv.Itoa(int(p.ID)) + ".jpg"
	}
	if thumb {
		name = "thumb-" + name
	}
	return name
}

func runConfig(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to config.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	b, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
