package convert

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// LibreOffice converts documents with a headless soffice process.
type LibreOffice struct {
	binPath string
	timeout time.Duration
}

// NewLibreOffice creates a converter. An empty binPath uses "soffice"; a
// non-positive timeout uses two minutes.
func NewLibreOffice(binPath string, timeout time.Duration) *LibreOffice {
	if binPath == "" {
		binPath = "soffice"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LibreOffice{binPath: binPath, timeout: timeout}
}

// ConvertToCanonical writes data to a scratch directory, runs
// soffice --headless --convert-to pdf on it and returns the PDF bytes. Every
// call uses its own profile directory so concurrent conversions do not share
// LibreOffice's user installation lock.
func (l *LibreOffice) ConvertToCanonical(ctx context.Context, filename string, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docsage-convert-")
	if err != nil {
		return nil, eris.Wrap(err, "convert: create scratch dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	input := filepath.Join(dir, base)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, eris.Wrap(err, "convert: write input")
	}
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, eris.Wrap(err, "convert: create output dir")
	}

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, l.binPath,
		"-env:UserInstallation=file://"+filepath.ToSlash(filepath.Join(dir, "profile")),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		input,
	)
	cmd.Env = append(os.Environ(), "HOME="+dir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// The caller giving up is not a property of the document.
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "convert: soffice %s", base)
		}
		return nil, eris.Wrapf(ErrConversionFailed, "soffice failed for %s: %v: %s", base, err, strings.TrimSpace(stderr.String()))
	}

	out := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	pdf, err := os.ReadFile(out)
	if err != nil || len(pdf) == 0 {
		return nil, eris.Wrapf(ErrConversionFailed, "soffice produced no output for %s: %s", base, strings.TrimSpace(stdout.String()))
	}
	return pdf, nil
}
