// Command sigverify uploads a signature image to the verification service and
// prints the analysis dashboard.
//
//	sigverify health
//	sigverify verify <image> [-export json,csv,pdf] [-out dir] [-open]
//	sigverify dashboard -result-id <id> [-export json,csv,pdf] [-out dir] [-open]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"sigverify/api/internal/backend"
	"sigverify/api/internal/config"
	"sigverify/api/internal/dashboard"
	"sigverify/api/internal/session"
	"sigverify/api/internal/uploader"
)

const usage = `usage:
  sigverify health
  sigverify verify <image> [-export json,csv,pdf] [-out dir] [-open] [-v]
  sigverify dashboard -result-id <id> [-export json,csv,pdf] [-out dir] [-open] [-v]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type app struct {
	cfg    *config.Config
	client *backend.Client
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	a := &app{
		cfg: cfg,
		client: backend.New(cfg.BackendURL,
			backend.WithUploadTimeout(cfg.UploadTimeout),
			backend.WithHealthTimeout(cfg.HealthTimeout),
			backend.WithUploadFields(cfg.UploadFields...),
		),
		stdout: stdout,
		stderr: stderr,
	}

	switch args[0] {
	case "health":
		return a.health(ctx)
	case "verify":
		return a.verify(ctx, args[1:])
	case "dashboard":
		return a.dashboard(ctx, args[1:])
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	}
	fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
	return 2
}

type exportFlags struct {
	formats string
	out     string
	open    bool
	verbose bool
}

func (a *app) bind(fs *flag.FlagSet) *exportFlags {
	f := &exportFlags{}
	fs.StringVar(&f.formats, "export", "", "comma separated export formats: json,csv,pdf")
	fs.StringVar(&f.out, "out", a.cfg.OutputDir, "directory for exported files")
	fs.BoolVar(&f.open, "open", false, "open the printable report in the browser when the PDF export falls back to it")
	fs.BoolVar(&f.verbose, "v", false, "log requests to stderr")
	return f
}

// setupLog hides the packages' request logs unless -v is given.
func (a *app) setupLog(verbose bool) {
	if !verbose {
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(a.stderr)
	log.SetPrefix("[" + uuid.NewString()[:8] + "] ")
}

func (a *app) health(ctx context.Context) int {
	a.setupLog(false)
	msg, err := uploader.New(a.client, session.NewMemory(), nil).TestConnection(ctx)
	if err != nil {
		fmt.Fprintln(a.stderr, msg)
		return 1
	}
	fmt.Fprintln(a.stdout, msg)
	return 0
}

func (a *app) verify(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	ef := a.bind(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	// image may come before or after the flags
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(a.stderr, usage)
		return 2
	}
	path := rest[0]
	if err := fs.Parse(rest[1:]); err != nil {
		return 2
	}
	formats, err := parseFormats(ef.formats)
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return 2
	}
	a.setupLog(ef.verbose)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.stderr, "read %s: %v\n", path, err)
		return 1
	}

	store := session.NewMemory()
	var target string
	up := uploader.New(a.client, store,
		uploader.NavigatorFunc(func(t string) { target = t }),
		uploader.WithMaxBytes(a.cfg.MaxUploadBytes),
		uploader.WithDashboardPath(a.cfg.DashboardPath),
	)

	c := uploader.NewCandidate(filepath.Base(path), mime.TypeByExtension(strings.ToLower(filepath.Ext(path))), data)
	if err := up.SelectFile(c); err != nil {
		fmt.Fprintln(a.stderr, up.Snapshot().Message)
		return 1
	}

	fmt.Fprintf(a.stdout, "Uploading %s (%d bytes)...\n", c.Name, c.Size())
	state, err := up.Submit(ctx)
	snap := up.Snapshot()
	switch state {
	case uploader.StateSuccess:
		d := a.newDashboard(store, target, ef)
		if code := a.show(ctx, d); code != 0 {
			return code
		}
		return a.export(ctx, d, formats)
	case uploader.StateInvalid:
		fmt.Fprintf(a.stdout, "%s (%g%% confidence)\n", snap.Message, snap.Result.Confidence)
		if len(formats) == 0 {
			return 0
		}
		return a.export(ctx, a.newDashboard(store, target, ef), formats)
	}
	if snap.Message != "" {
		fmt.Fprintln(a.stderr, snap.Message)
	} else {
		fmt.Fprintln(a.stderr, err)
	}
	return 1
}

func (a *app) dashboard(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("dashboard", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	ef := a.bind(fs)
	resultID := fs.String("result-id", "", "result handle issued by the service")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	formats, err := parseFormats(ef.formats)
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return 2
	}
	a.setupLog(ef.verbose)

	store := session.NewMemory()
	if *resultID != "" {
		store.Set(session.KeyResultID, *resultID)
	}
	d := a.newDashboard(store, "", ef)
	if code := a.show(ctx, d); code != 0 {
		return code
	}
	return a.export(ctx, d, formats)
}

func (a *app) newDashboard(store session.Store, target string, ef *exportFlags) *dashboard.Dashboard {
	sink := dashboard.DirSink{Dir: ef.out}
	return dashboard.New(a.client, store, sink, dashboard.FileOpener{DirSink: sink, Launch: ef.open}, dashboard.ParseHint(target))
}

func (a *app) show(ctx context.Context, d *dashboard.Dashboard) int {
	if _, err := d.Load(ctx); err != nil {
		fmt.Fprintln(a.stderr, dashboard.Message(err))
		return 1
	}
	v, err := d.Render()
	if err != nil {
		fmt.Fprintln(a.stderr, dashboard.Message(err))
		return 1
	}
	fmt.Fprint(a.stdout, v.Text())
	return 0
}

func (a *app) export(ctx context.Context, d *dashboard.Dashboard, formats []backend.Format) int {
	code := 0
	for _, f := range formats {
		dl, err := d.Export(ctx, f)
		if err != nil {
			fmt.Fprintln(a.stderr, dashboard.Message(err))
			code = 1
			continue
		}
		fmt.Fprintf(a.stdout, "Saved %s (%d bytes)\n", dl.Name, len(dl.Body))
	}
	return code
}

func parseFormats(s string) ([]backend.Format, error) {
	var out []backend.Format
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p == "" {
			continue
		}
		f, err := backend.ParseFormat(p)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
