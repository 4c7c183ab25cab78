package semantic

// PayloadContent is the payload key holding the chunk text. Every other
// payload key is chunk metadata.
const PayloadContent = "content"

// VectorRecord is a single point to store.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// SearchResult is a search hit or a scrolled point. Score is zero for
// scrolled points.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta"`
}

// Stats describes the collection.
type Stats struct {
	Collection     string `json:"collection"`
	Status         string `json:"status"`
	Points         uint64 `json:"points"`
	IndexedVectors uint64 `json:"indexed_vectors"`
	VectorSize     uint64 `json:"vector_size"`
}

// Filter matches points whose keyword field Key equals any of AnyOf.
type Filter struct {
	Key   string
	AnyOf []string
}

// Page is one page of a Scroll. Next is empty on the last page.
type Page struct {
	Points []SearchResult
	Next   string
}
