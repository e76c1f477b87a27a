package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"pdf-workbench/internal/domain"

	"github.com/klauspost/compress/zip"
)

const archiveEngine = "zip"

// ZipArchiver bundles multi-file outputs.
type ZipArchiver struct{}

// WriteZip writes entries to out in the given order.
func (ZipArchiver) WriteZip(ctx context.Context, out string, entries []domain.ArchiveEntry) error {
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return domain.NewEngineError(archiveEngine, domain.EngineFailed, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return domain.NewEngineError(archiveEngine, domain.EngineTimeout, err)
		}
		if err := addToZip(zw, entry); err != nil {
			return domain.NewEngineError(archiveEngine, domain.EngineFailed, err)
		}
	}

	if err := zw.Close(); err != nil {
		return domain.NewEngineError(archiveEngine, domain.EngineFailed, err)
	}
	return f.Close()
}

func addToZip(zw *zip.Writer, entry domain.ArchiveEntry) error {
	src, err := os.Open(entry.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("add %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %s: %w", entry.Name, err)
	}
	return nil
}
