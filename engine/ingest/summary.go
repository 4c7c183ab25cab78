package ingest

import (
	"time"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// Summary describes one write run.
type Summary struct {
	Mode       Mode                `json:"mode"`
	Collection string              `json:"collection"`
	Documents  int                 `json:"documents"`
	Chunks     int                 `json:"chunks"`
	BySource   map[string]int      `json:"by_source"`
	ByType     map[string]int      `json:"by_type"`
	Reports    []domain.LoadReport `json:"reports"`
	Duration   time.Duration       `json:"duration"`
}

func (s *Summary) count(docs []domain.Document, chunks []domain.Chunk) {
	s.Documents = len(docs)
	s.Chunks = len(chunks)
	s.BySource = make(map[string]int)
	s.ByType = make(map[string]int)
	for _, d := range docs {
		s.BySource[d.Metadata.String(domain.KeySource)]++
		s.ByType[d.Metadata.String(domain.KeyType)]++
	}
}

// Failures maps each loader whose call failed to its error text. Skipped
// loaders are not failures.
func (s Summary) Failures() map[string]string {
	out := make(map[string]string)
	for _, r := range s.Reports {
		if r.Failed() {
			out[r.Loader] = r.Err.Error()
		}
	}
	return out
}
