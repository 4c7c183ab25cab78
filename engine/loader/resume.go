package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// ResumeLoader reads a résumé PDF, one document per non-empty page, and
// falls back to a plain-text copy when the PDF is absent or unreadable.
type ResumeLoader struct {
	PDFPath  string
	TextPath string
	Clock    Clock
}

// NewResumeLoader creates a ResumeLoader. Either path may be empty.
func NewResumeLoader(pdfPath, textPath string) *ResumeLoader {
	return &ResumeLoader{PDFPath: pdfPath, TextPath: textPath}
}

func (l *ResumeLoader) Name() string { return NameResume }

// Load returns ErrSourceNotFound when neither file exists.
func (l *ResumeLoader) Load(ctx context.Context) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pdfErr error
	if l.PDFPath != "" {
		docs, err := l.loadPDF()
		if err == nil && len(docs) > 0 {
			return docs, nil
		}
		pdfErr = err
	}

	var textErr error
	if l.TextPath != "" {
		docs, err := l.loadText()
		if err == nil {
			return docs, nil
		}
		if !domain.IsSoft(err) {
			return nil, err
		}
		textErr = err
	}

	switch {
	case pdfErr != nil:
		return nil, pdfErr
	case textErr != nil && l.PDFPath == "":
		return nil, textErr
	case l.PDFPath == "" && l.TextPath == "":
		return nil, fmt.Errorf("resume: no path configured: %w", domain.ErrSourceNotFound)
	}
	return nil, nil
}

func (l *ResumeLoader) loadPDF() ([]domain.Document, error) {
	if _, err := os.Stat(l.PDFPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("resume: %s: %w", l.PDFPath, domain.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("resume: stat %s: %w: %w", l.PDFPath, domain.ErrSourceUnavailable, err)
	}

	pages, err := extractPDFPages(l.PDFPath)
	if err != nil {
		return nil, fmt.Errorf("resume: %s: %w: %w", l.PDFPath, domain.ErrSourceUnavailable, err)
	}

	now := l.Clock.now()
	var docs []domain.Document
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.NewDocument(text, domain.SourceResume, domain.TypeResumePDF, domain.Metadata{
			domain.KeyPage:     i + 1,
			domain.KeyFilePath: l.PDFPath,
		}, now))
	}
	return docs, nil
}

func (l *ResumeLoader) loadText() ([]domain.Document, error) {
	data, err := os.ReadFile(l.TextPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("resume: %s: %w", l.TextPath, domain.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("resume: read %s: %w: %w", l.TextPath, domain.ErrSourceUnavailable, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return []domain.Document{domain.NewDocument(text, domain.SourceResume, domain.TypeResumeText, domain.Metadata{
		domain.KeyFilePath: l.TextPath,
	}, l.Clock.now())}, nil
}
