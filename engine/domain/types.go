// Package domain defines the core document model, metadata vocabulary, and
// validation shared by the loaders, the ingestion pipeline, and the answerer.
// It acts as the validation gate at pipeline entry points.
package domain

import "time"

// Source identifies where a document came from.
type Source string

const (
	SourceResume          Source = "resume"
	SourcePortfolioConfig Source = "portfolio_config"
	SourceGitHub          Source = "github"
	SourceBlog            Source = "blog"
)

// DynamicSources are refreshed by the dynamic update; everything else is
// ingested once during a full rebuild.
var DynamicSources = []Source{SourceGitHub, SourceBlog}

// IsDynamic reports whether s is a live, slowly changing source.
func (s Source) IsDynamic() bool {
	for _, d := range DynamicSources {
		if s == d {
			return true
		}
	}
	return false
}

// Type is the finer-grained category of a document within its source.
type Type string

const (
	TypeResumePDF       Type = "resume_pdf"
	TypeResumeText      Type = "resume_text"
	TypeSkills          Type = "skills"
	TypeExperience      Type = "experience"
	TypeEducation       Type = "education"
	TypeExternalProject Type = "external_project"
	TypeProject         Type = "project"
	TypeArticle         Type = "article"
)

// Metadata keys used across sources.
const (
	KeySource      = "source"
	KeyType        = "type"
	KeyLastUpdated = "last_updated"
	KeyContent     = "content"

	KeyDocID      = "doc_id"
	KeyChunkIndex = "chunk_index"
	KeyChunkCount = "chunk_count"

	KeyCompany     = "company"
	KeyCompanyURL  = "company_url"
	KeyPosition    = "position"
	KeyInstitution = "institution"
	KeyDegree      = "degree"
	KeyFrom        = "from"
	KeyTo          = "to"
	KeyTitle       = "title"
	KeyLink        = "link"
	KeyURL         = "url"
	KeyTags        = "tags"
	KeyPublishedAt = "published_at"
	KeyReadingTime = "reading_time"
	KeyRepoName    = "repo_name"
	KeyRepoURL     = "repo_url"
	KeyLanguage    = "language"
	KeyStars       = "stars"
	KeyUpdatedAt   = "updated_at"
	KeySkills      = "skills"
	KeyPage        = "page"
	KeyFilePath    = "file_path"
)

// Metadata is the free-form payload attached to a document. Values are
// strings, integers, floats, booleans, or string slices.
type Metadata map[string]any

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value at key as a string, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Source returns the document's source tag.
func (m Metadata) Source() Source { return Source(m.String(KeySource)) }

// Type returns the document's type tag.
func (m Metadata) Type() Type { return Type(m.String(KeyType)) }

// Document is one normalized unit of retrievable text before chunking.
type Document struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// NewDocument builds a document tagged with source, type and a load timestamp.
// Extra metadata is merged on top of the tags.
func NewDocument(content string, src Source, typ Type, extra Metadata, now time.Time) Document {
	md := make(Metadata, len(extra)+3)
	for k, v := range extra {
		md[k] = v
	}
	md[KeySource] = string(src)
	md[KeyType] = string(typ)
	md[KeyLastUpdated] = now.UTC().Format(time.RFC3339)
	return Document{Content: content, Metadata: md}
}

// Chunk is a bounded slice of a Document's content. It inherits the parent's
// metadata plus chunk bookkeeping keys.
type Chunk = Document

// RetrievalResult pairs a stored chunk with its similarity score.
type RetrievalResult struct {
	Document Document `json:"document"`
	Score    float32  `json:"score"`
}

// LoadReport records the outcome of one loader run.
type LoadReport struct {
	Loader    string        `json:"loader"`
	Documents int           `json:"documents"`
	Skipped   bool          `json:"skipped"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the loader was configured but its call failed.
func (r LoadReport) Failed() bool { return r.Err != nil && !r.Skipped }
