package dashboard

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// DirSink writes downloads into a directory.
type DirSink struct {
	Dir string
}

func (s DirSink) Path(name string) string {
	return filepath.Join(s.Dir, filepath.Base(name))
}

func (s DirSink) Save(_ context.Context, d Download) error {
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return errors.Wrap(err, "create output dir")
		}
	}
	p := s.Path(d.Name)
	if err := os.WriteFile(p, d.Body, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", p)
	}
	log.Printf("dashboard: saved %s (%d bytes)", p, len(d.Body))
	return nil
}

// FileOpener writes the report next to the other downloads and, with Launch,
// opens it in the system browser.
type FileOpener struct {
	DirSink
	Launch bool
	// Command overrides the launcher; nil uses the platform default.
	Command func(path string) *exec.Cmd
}

func (o FileOpener) Open(ctx context.Context, d Download) error {
	if err := o.Save(ctx, d); err != nil {
		return err
	}
	if !o.Launch {
		return nil
	}
	p := o.Path(d.Name)
	cmdFn := o.Command
	if cmdFn == nil {
		cmdFn = browserCommand
	}
	cmd := cmdFn(p)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "launch %s", cmd.Path)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func browserCommand(path string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		return exec.Command("xdg-open", path)
	}
}
