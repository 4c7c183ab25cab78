package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/portfolio-chat/portfolio-chat/engine/configparser"
	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// ProfileConfigLoader reads the profile configuration file and extracts
// skills, experience, education and external projects from it.
type ProfileConfigLoader struct {
	Path   string
	Clock  Clock
	Logger *slog.Logger
}

// NewProfileConfigLoader creates a ProfileConfigLoader for path.
func NewProfileConfigLoader(path string, logger *slog.Logger) *ProfileConfigLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileConfigLoader{Path: path, Logger: logger}
}

func (l *ProfileConfigLoader) Name() string { return NameProfile }

type extraction struct {
	name string
	run  func(*configparser.Config) ([]domain.Document, error)
}

// Load runs the four extractions independently. A failure in one is logged
// and yields no documents for that record type only.
func (l *ProfileConfigLoader) Load(ctx context.Context) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Path == "" {
		return nil, fmt.Errorf("profile: no path configured: %w", domain.ErrSourceNotFound)
	}
	src, err := os.ReadFile(l.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("profile: %s: %w", l.Path, domain.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("profile: read %s: %w: %w", l.Path, domain.ErrSourceUnavailable, err)
	}

	cfg := configparser.Parse(string(src))
	if bad := cfg.Malformed(); len(bad) > 0 {
		l.logger().Warn("profile: unlexable spans", "path", l.Path, "spans", bad)
	}

	ex := configparser.Extractor{Now: l.Clock}
	extractions := []extraction{
		{"skills", ex.Skills},
		{"experience", ex.Experiences},
		{"education", ex.Educations},
		{"external_projects", ex.ExternalProjects},
	}

	var docs []domain.Document
	for _, e := range extractions {
		got, err := runExtraction(e, cfg)
		switch {
		case errors.Is(err, configparser.ErrKeyNotFound):
			l.logger().Debug("profile: section absent", "section", e.name)
		case err != nil:
			l.logger().Warn("profile: extraction failed, skipping", "section", e.name, "err", err)
		default:
			l.logger().Info("profile: extracted", "section", e.name, "count", len(got))
			docs = append(docs, got...)
		}
	}
	return docs, nil
}

func runExtraction(e extraction, cfg *configparser.Config) (docs []domain.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: panic: %v", e.name, domain.ErrParse, r)
		}
	}()
	return e.run(cfg)
}

func (l *ProfileConfigLoader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
