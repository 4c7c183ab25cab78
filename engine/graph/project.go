package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// OwnerID is the ID of the single Person node.
const OwnerID = "person:owner"

// NodeID derives a stable node ID from a label and a display name.
func NodeID(label, name string) string {
	return strings.ToLower(label) + ":" + strings.ToLower(strings.Join(strings.Fields(name), " "))
}

type builder struct {
	nodes   map[string]*Node
	order   []string
	edges   map[string]Edge
	eorder  []string
	replace map[string]bool
}

// Build projects docs onto the profile graph of owner. Documents of types the
// graph does not model (résumé pages) are ignored.
func Build(owner string, docs []domain.Document) Projection {
	if strings.TrimSpace(owner) == "" {
		owner = "Portfolio Owner"
	}
	b := &builder{nodes: map[string]*Node{}, edges: map[string]Edge{}, replace: map[string]bool{}}
	b.node(Node{ID: OwnerID, Label: LabelPerson, Name: owner})

	for _, d := range docs {
		md := d.Metadata
		switch md.Type() {
		case domain.TypeSkills:
			for _, s := range stringList(md[domain.KeySkills]) {
				b.link(OwnerID, RelHasSkill, b.named(LabelSkill, s, nil), nil)
			}
		case domain.TypeExperience:
			company := md.String(domain.KeyCompany)
			if company == "" {
				continue
			}
			id := b.named(LabelCompany, company, props(md, domain.KeyCompanyURL))
			b.link(OwnerID, RelWorkedAt, id, props(md, domain.KeyPosition, domain.KeyFrom, domain.KeyTo))
		case domain.TypeEducation:
			inst := md.String(domain.KeyInstitution)
			if inst == "" {
				continue
			}
			id := b.named(LabelInstitution, inst, nil)
			b.link(OwnerID, RelStudiedAt, id, props(md, domain.KeyDegree, domain.KeyFrom, domain.KeyTo))
		case domain.TypeExternalProject:
			title := md.String(domain.KeyTitle)
			if title == "" {
				continue
			}
			b.link(OwnerID, RelBuilt, b.named(LabelProject, title, props(md, domain.KeyLink)), nil)
		case domain.TypeProject:
			name := md.String(domain.KeyRepoName)
			if name == "" {
				continue
			}
			b.replace[LabelRepository] = true
			id := b.named(LabelRepository, name, props(md, domain.KeyRepoURL, domain.KeyStars, domain.KeyUpdatedAt))
			b.link(OwnerID, RelOwns, id, nil)
			if lang := md.String(domain.KeyLanguage); lang != "" && lang != "Unknown" {
				b.link(id, RelWrittenIn, b.named(LabelLanguage, lang, nil), nil)
			}
		case domain.TypeArticle:
			title := md.String(domain.KeyTitle)
			if title == "" {
				continue
			}
			b.replace[LabelArticle] = true
			id := b.named(LabelArticle, title, props(md, domain.KeyURL, domain.KeyPublishedAt, domain.KeyReadingTime))
			b.link(OwnerID, RelWrote, id, nil)
			for _, tag := range stringList(md[domain.KeyTags]) {
				b.link(id, RelTagged, b.named(LabelTag, tag, nil), nil)
			}
		}
	}
	return b.projection()
}

func (b *builder) node(n Node) string {
	if existing, ok := b.nodes[n.ID]; ok {
		for k, v := range n.Props {
			if existing.Props == nil {
				existing.Props = map[string]any{}
			}
			existing.Props[k] = v
		}
		return n.ID
	}
	b.nodes[n.ID] = &n
	b.order = append(b.order, n.ID)
	return n.ID
}

func (b *builder) named(label, name string, p map[string]any) string {
	name = strings.TrimSpace(name)
	return b.node(Node{ID: NodeID(label, name), Label: label, Name: name, Props: p})
}

func (b *builder) link(from, rel, to string, p map[string]any) {
	key := from + "|" + rel + "|" + to
	if _, ok := b.edges[key]; !ok {
		b.eorder = append(b.eorder, key)
	}
	b.edges[key] = Edge{From: from, To: to, Type: rel, Props: p}
}

func (b *builder) projection() Projection {
	p := Projection{
		Nodes: make([]Node, 0, len(b.order)),
		Edges: make([]Edge, 0, len(b.eorder)),
	}
	for _, id := range b.order {
		p.Nodes = append(p.Nodes, *b.nodes[id])
	}
	for _, k := range b.eorder {
		p.Edges = append(p.Edges, b.edges[k])
	}
	for label := range b.replace {
		p.Replace = append(p.Replace, label)
	}
	sort.Strings(p.Replace)
	return p
}

// props copies the present keys of md.
func props(md domain.Metadata, keys ...string) map[string]any {
	out := map[string]any{}
	for _, k := range keys {
		if v, ok := md[k]; ok && v != nil && v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stringList reads a list-valued metadata field. Values that went through the
// vector store may come back as []any, and article tags are a joined string.
func stringList(v any) []string {
	var raw []string
	switch tv := v.(type) {
	case []string:
		raw = tv
	case []any:
		for _, x := range tv {
			raw = append(raw, fmt.Sprint(x))
		}
	case string:
		raw = strings.Split(tv, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
