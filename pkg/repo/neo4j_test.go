package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type skill struct {
	ID   string
	Name string
}

type fakeResult struct {
	records []*neo4j.Record
	pos     int
	err     error
}

func (r *fakeResult) Next(context.Context) bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeResult) Record() *neo4j.Record { return r.records[r.pos-1] }
func (r *fakeResult) Err() error            { return r.err }

type fakeSession struct {
	queries []string
	params  []map[string]any
	result  *fakeResult
	runErr  error
	closed  int
}

func (s *fakeSession) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	s.queries = append(s.queries, cypher)
	s.params = append(s.params, params)
	if s.runErr != nil {
		return nil, s.runErr
	}
	if s.result == nil {
		return &fakeResult{}, nil
	}
	return s.result, nil
}

func (s *fakeSession) ExecuteWrite(ctx context.Context, work func(Runner) (any, error)) (any, error) {
	return work(s)
}

func (s *fakeSession) Close(context.Context) error {
	s.closed++
	return nil
}

type fakeOpener struct{ sess *fakeSession }

func (o fakeOpener) OpenSession(context.Context) Session { return o.sess }

func skillRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"n"},
		Values: []any{dbtype.Node{Labels: []string{"Skill"}, Props: map[string]any{"id": id, "name": name}}},
	}
}

func newSkillRepo(sess *fakeSession) *Neo4jRepo[skill, string] {
	return NewNeo4jRepo[skill, string](fakeOpener{sess: sess}, "Skill", func(rec *neo4j.Record) (skill, error) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
		if err != nil {
			return skill{}, err
		}
		id, _ := node.Props["id"].(string)
		name, _ := node.Props["name"].(string)
		return skill{ID: id, Name: name}, nil
	})
}

func records(recs ...*neo4j.Record) *fakeSession {
	return &fakeSession{result: &fakeResult{records: recs}}
}

func TestGet(t *testing.T) {
	sess := records(skillRecord("skill:go", "Go"))
	got, err := newSkillRepo(sess).Get(context.Background(), "skill:go")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Go" {
		t.Fatalf("got %+v", got)
	}
	if sess.queries[0] != "MATCH (n:Skill {id: $id}) RETURN n" || sess.params[0]["id"] != "skill:go" {
		t.Fatalf("query %q params %v", sess.queries[0], sess.params[0])
	}
	if sess.closed != 1 {
		t.Fatal("session not closed")
	}
}

func TestGet_Errors(t *testing.T) {
	tests := []struct {
		name     string
		sess     *fakeSession
		notFound bool
		contains string
	}{
		{"missing", &fakeSession{}, true, "Skill skill:rust"},
		{"stream error", &fakeSession{result: &fakeResult{err: errors.New("stream broke")}}, false, "stream broke"},
		{"run error", &fakeSession{runErr: errors.New("neo4j down")}, false, "repo: get Skill: neo4j down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSkillRepo(tt.sess).Get(context.Background(), "skill:rust")
			if err == nil || errors.Is(err, ErrNotFound) != tt.notFound || !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestList(t *testing.T) {
	sess := records(skillRecord("skill:go", "Go"), skillRecord("skill:sql", "SQL"))
	r := newSkillRepo(sess)
	items, err := r.List(context.Background(), ListOpts{Offset: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].Name != "SQL" {
		t.Fatalf("items = %+v", items)
	}
	if sess.params[0]["limit"] != int64(DefaultListLimit) || sess.params[0]["offset"] != int64(5) {
		t.Fatalf("params = %v", sess.params[0])
	}
	if !strings.Contains(sess.queries[0], "ORDER BY n.id") || r.Label() != "Skill" {
		t.Fatalf("query = %q", sess.queries[0])
	}
}

func TestList_BadRecord(t *testing.T) {
	bad := &neo4j.Record{Keys: []string{"n"}, Values: []any{"not a node"}}
	if _, err := newSkillRepo(records(bad)).List(context.Background(), ListOpts{Limit: 3}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCount(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"c"}, Values: []any{int64(7)}}
	n, err := newSkillRepo(records(rec)).Count(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if _, err := newSkillRepo(&fakeSession{runErr: errors.New("neo4j down")}).Count(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
