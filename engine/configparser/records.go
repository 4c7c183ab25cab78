package configparser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// Experience is one work history entry.
type Experience struct {
	Company     string `yaml:"company"`
	Position    string `yaml:"position"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	CompanyLink string `yaml:"companyLink"`
}

// Education is one education entry.
type Education struct {
	Institution string `yaml:"institution"`
	Degree      string `yaml:"degree"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
}

// Project is one external (non-GitHub) project.
type Project struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	ImageURL    string `yaml:"imageUrl"`
	Link        string `yaml:"link"`
}

const (
	notAvailable = "N/A"
	present      = "Present"
)

// Extractor turns a parsed config into documents. Now stamps last_updated.
type Extractor struct {
	Now func() time.Time
}

func (e Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Skills returns a single "Technical Skills" document, or none when the
// skills list is empty.
func (e Extractor) Skills(c *Config) ([]domain.Document, error) {
	var raw []any
	if err := c.Decode(&raw, "skills"); err != nil {
		return nil, wrapParse("skills", err)
	}
	var skills []string
	for _, v := range raw {
		switch tv := v.(type) {
		case string:
			if s := strings.TrimSpace(tv); s != "" {
				skills = append(skills, s)
			}
		case map[string]any:
			if name, ok := tv["name"].(string); ok && strings.TrimSpace(name) != "" {
				skills = append(skills, strings.TrimSpace(name))
			}
		}
	}
	if len(skills) == 0 {
		return nil, nil
	}
	doc := domain.NewDocument(
		"Technical Skills: "+strings.Join(skills, ", "),
		domain.SourcePortfolioConfig, domain.TypeSkills,
		domain.Metadata{domain.KeySkills: skills},
		e.now(),
	)
	return []domain.Document{doc}, nil
}

// Experiences returns one document per entry with company and position.
func (e Extractor) Experiences(c *Config) ([]domain.Document, error) {
	var items []Experience
	if err := c.Decode(&items, "experiences", "experience"); err != nil {
		return nil, wrapParse("experiences", err)
	}
	now := e.now()
	var docs []domain.Document
	for _, x := range items {
		company, position := strings.TrimSpace(x.Company), strings.TrimSpace(x.Position)
		if company == "" || position == "" {
			continue
		}
		from := orDefault(x.From, notAvailable)
		to := orDefault(x.To, present)
		md := domain.Metadata{
			domain.KeyCompany:  company,
			domain.KeyPosition: position,
			domain.KeyFrom:     from,
			domain.KeyTo:       to,
		}
		if link := strings.TrimSpace(x.CompanyLink); link != "" {
			md[domain.KeyCompanyURL] = link
		}
		content := fmt.Sprintf("Work Experience: %s at %s (%s - %s)", position, company, from, to)
		docs = append(docs, domain.NewDocument(content, domain.SourcePortfolioConfig, domain.TypeExperience, md, now))
	}
	return docs, nil
}

// Educations returns one document per entry with institution and degree.
func (e Extractor) Educations(c *Config) ([]domain.Document, error) {
	var items []Education
	if err := c.Decode(&items, "educations", "education"); err != nil {
		return nil, wrapParse("educations", err)
	}
	now := e.now()
	var docs []domain.Document
	for _, x := range items {
		inst, degree := strings.TrimSpace(x.Institution), strings.TrimSpace(x.Degree)
		if inst == "" || degree == "" {
			continue
		}
		from := orDefault(x.From, notAvailable)
		to := orDefault(x.To, notAvailable)
		md := domain.Metadata{
			domain.KeyInstitution: inst,
			domain.KeyDegree:      degree,
			domain.KeyFrom:        from,
			domain.KeyTo:          to,
		}
		content := fmt.Sprintf("Education: %s from %s (%s - %s)", degree, inst, from, to)
		docs = append(docs, domain.NewDocument(content, domain.SourcePortfolioConfig, domain.TypeEducation, md, now))
	}
	return docs, nil
}

// ExternalProjects returns one document per project with title and
// description. Projects are read from projects.external.projects, falling
// back to a top-level external.projects and then externalProjects.
func (e Extractor) ExternalProjects(c *Config) ([]domain.Document, error) {
	items, err := externalProjects(c)
	if err != nil {
		return nil, wrapParse("external projects", err)
	}
	now := e.now()
	var docs []domain.Document
	for _, p := range items {
		title, desc := strings.TrimSpace(p.Title), strings.TrimSpace(p.Description)
		if title == "" || desc == "" {
			continue
		}
		md := domain.Metadata{domain.KeyTitle: title}
		if link := strings.TrimSpace(p.Link); link != "" {
			md[domain.KeyLink] = link
		}
		content := fmt.Sprintf("Project: %s\n%s", title, desc)
		docs = append(docs, domain.NewDocument(content, domain.SourcePortfolioConfig, domain.TypeExternalProject, md, now))
	}
	return docs, nil
}

func externalProjects(c *Config) ([]Project, error) {
	var section struct {
		External struct {
			Projects []Project `yaml:"projects"`
		} `yaml:"external"`
	}
	err := c.Decode(&section, "projects")
	if err == nil && len(section.External.Projects) > 0 {
		return section.External.Projects, nil
	}

	var external struct {
		Projects []Project `yaml:"projects"`
	}
	if err2 := c.Decode(&external, "external"); err2 == nil && len(external.Projects) > 0 {
		return external.Projects, nil
	}

	var flat []Project
	if err3 := c.Decode(&flat, "externalProjects"); err3 == nil {
		return flat, nil
	}
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	return nil, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func wrapParse(section string, err error) error {
	if errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", section, err)
	}
	return fmt.Errorf("%s: %w: %w", section, domain.ErrParse, err)
}
