package semantic

import (
	"context"
	"errors"
	"reflect"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	deleteReq  *pb.DeletePoints
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	scrollReq  *pb.ScrollPoints
	scrollResp *pb.ScrollResponse
	countReq   *pb.CountPoints
	countResp  *pb.CountResponse
	indexReq   *pb.CreateFieldIndexCollection
	indexErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	m.scrollReq = in
	return m.scrollResp, nil
}
func (m *mockPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	m.countReq = in
	return m.countResp, nil
}
func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.indexReq = in
	return &pb.PointsOperationResponse{}, m.indexErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	getResp   *pb.GetCollectionInfoResponse
	createReq *pb.CreateCollection
	createErr error
	deleted   bool
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return m.getResp, nil
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.deleted = true
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func listing(names ...string) *pb.ListCollectionsResponse {
	resp := &pb.ListCollectionsResponse{}
	for _, n := range names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp
}

func str(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if vs.Collection() != "test" {
		t.Fatalf("collection = %q", vs.Collection())
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCollectionExists(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{listResp: listing("other", "test")}, "test")
	ok, err := vs.CollectionExists(context.Background())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	vs = NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "test")
	if _, err := vs.CollectionExists(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateCollection_CosineWithSourceIndex(t *testing.T) {
	cols := &mockCollections{}
	pts := &mockPoints{}
	vs := NewWithClients(pts, cols, "test")
	if err := vs.CreateCollection(context.Background(), 1536); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 1536 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("params = %v", params)
	}
	if pts.indexReq.GetFieldName() != domain.KeySource || pts.indexReq.GetFieldType() != pb.FieldType_FieldTypeKeyword {
		t.Fatalf("index = %v", pts.indexReq)
	}
}

func TestCreateCollection_Error(t *testing.T) {
	cols := &mockCollections{createErr: errors.New("create fail")}
	pts := &mockPoints{}
	vs := NewWithClients(pts, cols, "test")
	if err := vs.CreateCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
	if pts.indexReq != nil {
		t.Fatal("no payload index without a collection")
	}
}

func TestDeleteCollection(t *testing.T) {
	cols := &mockCollections{}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.DeleteCollection(context.Background()); err != nil || !cols.deleted {
		t.Fatalf("deleted=%v err=%v", cols.deleted, err)
	}
	cols.deleteErr = errors.New("fail")
	if err := vs.DeleteCollection(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStats(t *testing.T) {
	points, indexed := uint64(42), uint64(40)
	cols := &mockCollections{
		listResp: listing("test"),
		getResp: &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{
			Status:              pb.CollectionStatus_Green,
			PointsCount:         &points,
			IndexedVectorsCount: &indexed,
			Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
				VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{Size: 1536}}},
			}},
		}},
	}
	st, err := NewWithClients(&mockPoints{}, cols, "test").Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Stats{Collection: "test", Status: "Green", Points: 42, IndexedVectors: 40, VectorSize: 1536}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}
}

func TestStats_MissingCollection(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{listResp: listing()}, "test")
	if _, err := vs.Stats(context.Background()); !errors.Is(err, domain.ErrCollectionMissing) {
		t.Fatalf("expected ErrCollectionMissing, got %v", err)
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Fatal("empty upsert should not call qdrant")
	}
}

func TestUpsert_Payload(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	records := []VectorRecord{{
		ID:        "0b6e0f3a-0000-5000-8000-000000000001",
		Embedding: []float32{1, 0, 0, 0},
		Payload: map[string]any{
			"content": "hello",
			"stars":   42,
			"score":   3.5,
			"active":  true,
			"skills":  []string{"Go", "SQL"},
		},
	}}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pts.upsertReq.GetWait() {
		t.Error("upsert must wait")
	}
	p := pts.upsertReq.GetPoints()[0]
	if p.GetId().GetUuid() != records[0].ID {
		t.Errorf("id = %v", p.GetId())
	}
	got := fromPayload(p.GetPayload())
	want := map[string]any{"content": "hello", "stars": int64(42), "score": 3.5, "active": true, "skills": []string{"Go", "SQL"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("payload = %#v", got)
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.Upsert(context.Background(), []VectorRecord{{ID: "id1", Embedding: []float32{1, 0}}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteBySources(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.DeleteBySources(context.Background(), "github", "blog"); err != nil {
		t.Fatalf("DeleteBySources: %v", err)
	}
	should := pts.deleteReq.GetPoints().GetFilter().GetShould()
	if len(should) != 2 {
		t.Fatalf("expected 2 should conditions, got %d", len(should))
	}
	for i, src := range []string{"github", "blog"} {
		f := should[i].GetField()
		if f.GetKey() != domain.KeySource || f.GetMatch().GetKeyword() != src {
			t.Errorf("condition %d = %v", i, f)
		}
	}
}

func TestDeleteWhere_RejectsEmptyFilter(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.DeleteWhere(context.Background(), Filter{Key: domain.KeySource}); err == nil {
		t.Fatal("an empty filter would delete everything")
	}
	if pts.deleteReq != nil {
		t.Fatal("qdrant should not be called")
	}
}

func TestSearch_ThresholdAndPayload(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{{
				Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
				Score: 0.95,
				Payload: map[string]*pb.Value{
					"content": str("Work Experience: Engineer at Acme"),
					"source":  str("portfolio_config"),
					"company": str("Acme"),
				},
			}},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	results, err := vs.Search(context.Background(), []float32{1, 0}, 4, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReq.GetScoreThreshold() != 0.7 || pts.searchReq.GetLimit() != 4 {
		t.Errorf("request = %v", pts.searchReq)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.ID != "p1" || r.Score != 0.95 || r.Content != "Work Experience: Engineer at Acme" {
		t.Errorf("result = %+v", r)
	}
	if _, ok := r.Meta["content"]; ok {
		t.Error("content should not be duplicated into meta")
	}
	if r.Meta["company"] != "Acme" || r.Meta["source"] != "portfolio_config" {
		t.Errorf("meta = %v", r.Meta)
	}
}

func TestSearch_NoThreshold(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if _, err := vs.Search(context.Background(), []float32{1}, 4, 0); err != nil {
		t.Fatal(err)
	}
	if pts.searchReq.ScoreThreshold != nil {
		t.Error("zero threshold should not be sent")
	}
}

func TestSearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if _, err := vs.Search(context.Background(), []float32{1, 0}, 5, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestScroll(t *testing.T) {
	pts := &mockPoints{scrollResp: &pb.ScrollResponse{
		Result: []*pb.RetrievedPoint{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "a"}},
			Payload: map[string]*pb.Value{"content": str("x"), "source": str("github")},
		}},
		NextPageOffset: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "b"}},
	}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	page, err := vs.Scroll(context.Background(), 10, "start", &Filter{Key: "source", AnyOf: []string{"github"}})
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if pts.scrollReq.GetLimit() != 10 || pts.scrollReq.GetOffset().GetUuid() != "start" || pts.scrollReq.GetFilter() == nil {
		t.Errorf("request = %v", pts.scrollReq)
	}
	if len(page.Points) != 1 || page.Points[0].Content != "x" || page.Next != "b" {
		t.Errorf("page = %+v", page)
	}
}

func TestCount(t *testing.T) {
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 7}}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	n, err := vs.Count(context.Background(), nil)
	if err != nil || n != 7 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !pts.countReq.GetExact() {
		t.Error("count should be exact")
	}
}

func TestPayloadRoundTrip_Nested(t *testing.T) {
	in := map[string]any{
		"nested": map[string]any{"k": "v"},
		"mixed":  []any{"a", int64(1)},
		"nil":    nil,
	}
	got := fromPayload(toPayload(in))
	if !reflect.DeepEqual(got["nested"], map[string]any{"k": "v"}) {
		t.Errorf("nested = %#v", got["nested"])
	}
	if !reflect.DeepEqual(got["mixed"], []any{"a", int64(1)}) {
		t.Errorf("mixed = %#v", got["mixed"])
	}
	if got["nil"] != nil {
		t.Errorf("nil = %#v", got["nil"])
	}
}
