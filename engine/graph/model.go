// Package graph projects portfolio documents into a Neo4j profile graph and
// answers keyword lookups over it.
//
// The owner is a single Person node. Skills, employers, schools, projects,
// repositories and articles hang off it; repositories link to their language
// and articles to their tags.
package graph

import "fmt"

// Node labels.
const (
	LabelPerson      = "Person"
	LabelSkill       = "Skill"
	LabelCompany     = "Company"
	LabelInstitution = "Institution"
	LabelProject     = "Project"
	LabelRepository  = "Repository"
	LabelArticle     = "Article"
	LabelLanguage    = "Language"
	LabelTag         = "Tag"
)

// Relationship types.
const (
	RelHasSkill  = "HAS_SKILL"
	RelWorkedAt  = "WORKED_AT"
	RelStudiedAt = "STUDIED_AT"
	RelBuilt     = "BUILT"
	RelOwns      = "OWNS"
	RelWrote     = "WROTE"
	RelWrittenIn = "WRITTEN_IN"
	RelTagged    = "TAGGED"
)

// Node is a labelled vertex keyed by ID.
type Node struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Name  string         `json:"name"`
	Props map[string]any `json:"props,omitempty"`
}

// Edge is a directed relationship between two node IDs.
type Edge struct {
	From  string         `json:"from"`
	To    string         `json:"to"`
	Type  string         `json:"type"`
	Props map[string]any `json:"props,omitempty"`
}

// Fact is a relationship rendered with node names, as returned by lookups.
type Fact struct {
	From      string `json:"from"`
	FromLabel string `json:"from_label"`
	Rel       string `json:"rel"`
	To        string `json:"to"`
	ToLabel   string `json:"to_label"`
}

func (f Fact) String() string {
	return fmt.Sprintf("%s (%s) -[%s]-> %s (%s)", f.From, f.FromLabel, f.Rel, f.To, f.ToLabel)
}

// Projection is the node and edge set built from a batch of documents.
// Replace lists labels whose existing nodes absent from Nodes are removed, so
// a refreshed source does not leave stale vertices behind.
type Projection struct {
	Nodes   []Node
	Edges   []Edge
	Replace []string
}
