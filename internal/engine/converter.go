package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pdf-workbench/internal/domain"
)

const (
	officeEngine = "soffice"
	ocrEngine    = "ocrmypdf"
)

// ocrmypdf exit codes that map to a specific failure kind.
const (
	ocrExitInputFile       = 2
	ocrExitMissingDep      = 3
	ocrExitEncryptedPDF    = 8
	maxStderrInErrorString = 512
)

// Converter runs LibreOffice and ocrmypdf as subprocesses.
type Converter struct {
	runner      CommandRunner
	sofficePath string
	ocrPath     string
	logger      domain.Logger
}

// NewConverter creates a converter. Binaries are looked up on every call so
// installing one does not require a restart.
func NewConverter(sofficePath, ocrPath string, runner CommandRunner, logger domain.Logger) *Converter {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Converter{
		runner:      runner,
		sofficePath: sofficePath,
		ocrPath:     ocrPath,
		logger:      logger,
	}
}

// OfficeToPDF converts a word-processor, spreadsheet, or presentation file to PDF.
func (c *Converter) OfficeToPDF(ctx context.Context, in, out string) error {
	bin, err := c.runner.LookPath(c.sofficePath)
	if err != nil {
		return domain.NewEngineError(officeEngine, domain.EngineMissing, fmt.Errorf("%s not found: install LibreOffice to enable office conversion", c.sofficePath))
	}

	workDir, err := os.MkdirTemp(filepath.Dir(out), "soffice_")
	if err != nil {
		return domain.NewEngineError(officeEngine, domain.EngineFailed, err)
	}
	defer os.RemoveAll(workDir)

	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(workDir, "profile")),
		"--headless", "--norestore",
		"--convert-to", "pdf",
		"--outdir", workDir,
		in,
	}

	c.logger.Debug("Running office conversion", "input", filepath.Base(in))
	res, err := c.runner.Run(ctx, bin, args...)
	if err != nil {
		return classifyRunError(ctx, officeEngine, err)
	}
	if res.ExitCode != 0 {
		return domain.NewEngineError(officeEngine, domain.EngineFailed, exitError(res))
	}

	produced := filepath.Join(workDir, strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))+".pdf")
	if err := os.Rename(produced, out); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.NewEngineError(officeEngine, domain.EngineUnsupported, errors.New("converter produced no output for this file type"))
		}
		return domain.NewEngineError(officeEngine, domain.EngineFailed, err)
	}
	return nil
}

// OCR writes a copy of in with a searchable text layer. Pages that already
// carry text are left untouched.
func (c *Converter) OCR(ctx context.Context, in, out string) error {
	bin, err := c.runner.LookPath(c.ocrPath)
	if err != nil {
		return domain.NewEngineError(ocrEngine, domain.EngineMissing, fmt.Errorf("%s not found: install ocrmypdf to enable OCR", c.ocrPath))
	}

	c.logger.Debug("Running OCR", "input", filepath.Base(in))
	res, err := c.runner.Run(ctx, bin, "--skip-text", "--output-type", "pdf", in, out)
	if err != nil {
		return classifyRunError(ctx, ocrEngine, err)
	}

	switch res.ExitCode {
	case 0:
		return nil
	case ocrExitInputFile:
		return domain.NewEngineError(ocrEngine, domain.EngineCorrupt, exitError(res))
	case ocrExitMissingDep:
		return domain.NewEngineError(ocrEngine, domain.EngineMissing, exitError(res))
	case ocrExitEncryptedPDF:
		return domain.NewEngineError(ocrEngine, domain.EnginePasswordRequired, exitError(res))
	default:
		return domain.NewEngineError(ocrEngine, domain.EngineFailed, exitError(res))
	}
}

func classifyRunError(ctx context.Context, engine string, err error) error {
	if ctx.Err() != nil {
		return domain.NewEngineError(engine, domain.EngineTimeout, ctx.Err())
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return domain.NewEngineError(engine, domain.EngineMissing, err)
	}
	return domain.NewEngineError(engine, domain.EngineFailed, err)
}

func exitError(res *CommandResult) error {
	msg := strings.TrimSpace(string(res.Stderr))
	if len(msg) > maxStderrInErrorString {
		msg = msg[len(msg)-maxStderrInErrorString:]
	}
	if msg == "" {
		return fmt.Errorf("exit status %d", res.ExitCode)
	}
	return fmt.Errorf("exit status %d: %s", res.ExitCode, msg)
}
