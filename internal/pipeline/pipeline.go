// Package pipeline walks the paper workspace: it resumes interrupted runs
// from the transcript store, then turns every PDF waiting in the input
// directory into a podcast.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/papercast-labs/papercast-core/internal/assemble"
	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/extract"
	"github.com/papercast-labs/papercast-core/internal/store"
)

type Pipeline struct {
	workspace config.WorkspaceConfig
	extractor *extract.Extractor
	assembler *assemble.Assembler
	store     *store.Store
	logger    *slog.Logger
}

func New(workspace config.WorkspaceConfig, extractor *extract.Extractor, assembler *assemble.Assembler, st *store.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		workspace: workspace,
		extractor: extractor,
		assembler: assembler,
		store:     st,
		logger:    logger.With(slog.String("component", "paper-pipeline")),
	}
}

// EnsureWorkspace creates the working directories if they are missing.
func (p *Pipeline) EnsureWorkspace() error {
	for _, dir := range []string{
		p.workspace.InputDir,
		p.workspace.ProcessedDir,
		p.workspace.CleanedDir,
		p.workspace.OutputDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace dir %s: %w", dir, err)
		}
	}
	return nil
}

// Sweep performs one pass over the workspace: resume pending transcripts
// first, then process every new PDF in the input directory. Per-paper
// failures are logged and do not stop the sweep.
func (p *Pipeline) Sweep(ctx context.Context) error {
	if err := p.resumePending(ctx); err != nil {
		return err
	}

	pdfs, err := p.pendingPDFs()
	if err != nil {
		return err
	}
	for _, pdfPath := range pdfs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.ProcessFile(ctx, pdfPath); err != nil {
			p.logger.Error("paper processing failed",
				slog.String("file", pdfPath),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// resumePending finishes runs that were interrupted after their transcript
// was persisted.
func (p *Pipeline) resumePending(ctx context.Context) error {
	handles, err := p.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending transcripts: %w", err)
	}

	resumed := make(map[string]bool)
	for _, h := range handles {
		if resumed[h.SourceID] {
			continue
		}
		resumed[h.SourceID] = true
		if err := ctx.Err(); err != nil {
			return err
		}
		p.logger.Info("resuming interrupted run", slog.String("source_id", h.SourceID))
		if _, err := p.assembler.Run(ctx, h.SourceID, ""); err != nil {
			p.logger.Error("resume failed",
				slog.String("source_id", h.SourceID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// ProcessFile runs one PDF end to end and moves it into the processed
// directory on success. The cleaned text is kept alongside the audio for
// inspection.
func (p *Pipeline) ProcessFile(ctx context.Context, pdfPath string) (*assemble.Result, error) {
	text, err := p.extractor.Text(pdfPath)
	if err != nil {
		return nil, err
	}
	cleaned := p.extractor.Clean(ctx, text)
	sourceID := p.extractor.Slug(ctx, cleaned, fileStem(pdfPath))

	cleanedPath := filepath.Join(p.workspace.CleanedDir, sourceID+".txt")
	if err := os.WriteFile(cleanedPath, []byte(cleaned), 0o644); err != nil {
		return nil, fmt.Errorf("write cleaned text: %w", err)
	}

	res, err := p.assembler.Run(ctx, sourceID, cleaned)
	if err != nil {
		return nil, err
	}

	processedPath := filepath.Join(p.workspace.ProcessedDir, filepath.Base(pdfPath))
	if err := os.Rename(pdfPath, processedPath); err != nil {
		// The podcast exists; leaving the PDF in place only means a
		// redundant run next sweep.
		p.logger.Warn("could not move processed pdf",
			slog.String("file", pdfPath),
			slog.String("error", err.Error()))
	}
	return res, nil
}

func (p *Pipeline) pendingPDFs() ([]string, error) {
	entries, err := os.ReadDir(p.workspace.InputDir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var pdfs []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		pdfs = append(pdfs, filepath.Join(p.workspace.InputDir, e.Name()))
	}
	sort.Strings(pdfs)
	return pdfs, nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
