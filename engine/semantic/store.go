package semantic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Options configures the gRPC connection.
type Options struct {
	// Addr is host:port of the gRPC endpoint.
	Addr   string
	APIKey string
	TLS    bool
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore for collection, connecting lazily to Qdrant.
func New(opts Options, collection string) (*VectorStore, error) {
	dial := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if opts.TLS {
		dial[0] = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if opts.APIKey != "" {
		dial = append(dial, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}
	conn, err := grpc.NewClient(opts.Addr, dial...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", opts.Addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a store over existing clients. Close is a no-op.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// CollectionExists reports whether the collection is present.
func (v *VectorStore) CollectionExists(ctx context.Context) (bool, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return true, nil
		}
	}
	return false, nil
}

// CreateCollection creates the collection with cosine distance and a
// keyword index on the source field.
func (v *VectorStore) CreateCollection(ctx context.Context, dims int) error {
	_, err := v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}

	wait := true
	fieldType := pb.FieldType_FieldTypeKeyword
	_, err = v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: v.collection,
		Wait:           &wait,
		FieldName:      domain.KeySource,
		FieldType:      &fieldType,
	})
	if err != nil {
		return fmt.Errorf("semantic: index %s.%s: %w", v.collection, domain.KeySource, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Stats returns point counts, status and vector size. A missing collection
// is reported as domain.ErrCollectionMissing.
func (v *VectorStore) Stats(ctx context.Context) (Stats, error) {
	ok, err := v.CollectionExists(ctx)
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		return Stats{}, fmt.Errorf("semantic: %s: %w", v.collection, domain.ErrCollectionMissing)
	}
	resp, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return Stats{}, fmt.Errorf("semantic: collection info %s: %w", v.collection, err)
	}
	info := resp.GetResult()
	return Stats{
		Collection:     v.collection,
		Status:         info.GetStatus().String(),
		Points:         info.GetPointsCount(),
		IndexedVectors: info.GetIndexedVectorsCount(),
		VectorSize:     info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(),
	}, nil
}

// Upsert stores embedding records and waits for the write to apply.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// DeleteWhere removes all points matching f.
func (v *VectorStore) DeleteWhere(ctx context.Context, f Filter) error {
	if f.Key == "" || len(f.AnyOf) == 0 {
		return errors.New("semantic: delete needs a non-empty filter")
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: f.proto()},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete where %s in %v: %w", f.Key, f.AnyOf, err)
	}
	return nil
}

// DeleteBySources removes every point whose source is one of sources.
func (v *VectorStore) DeleteBySources(ctx context.Context, sources ...string) error {
	return v.DeleteWhere(ctx, Filter{Key: domain.KeySource, AnyOf: sources})
}

// Search performs k-NN similarity search. Hits scoring below threshold are
// dropped by Qdrant; a zero threshold disables the cut.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int, threshold float32) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if threshold > 0 {
		req.ScoreThreshold = &threshold
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		content, meta := splitPayload(r.GetPayload())
		results[i] = SearchResult{
			ID:      pointID(r.GetId()),
			Score:   r.GetScore(),
			Content: content,
			Meta:    meta,
		}
	}
	return results, nil
}

// Scroll returns up to limit points with payload, starting after offset.
// Pass the returned Page.Next to continue; an empty offset starts at the
// beginning.
func (v *VectorStore) Scroll(ctx context.Context, limit uint32, offset string, f *Filter) (Page, error) {
	req := &pb.ScrollPoints{
		CollectionName: v.collection,
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if offset != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: offset}}
	}
	if f != nil {
		req.Filter = f.proto()
	}

	resp, err := v.points.Scroll(ctx, req)
	if err != nil {
		return Page{}, fmt.Errorf("semantic: scroll: %w", err)
	}
	page := Page{Points: make([]SearchResult, len(resp.GetResult()))}
	for i, r := range resp.GetResult() {
		content, meta := splitPayload(r.GetPayload())
		page.Points[i] = SearchResult{ID: pointID(r.GetId()), Content: content, Meta: meta}
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.Next = pointID(next)
	}
	return page, nil
}

// Count returns the exact number of points, optionally filtered.
func (v *VectorStore) Count(ctx context.Context, f *Filter) (uint64, error) {
	exact := true
	req := &pb.CountPoints{CollectionName: v.collection, Exact: &exact}
	if f != nil {
		req.Filter = f.proto()
	}
	resp, err := v.points.Count(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func (f Filter) proto() *pb.Filter {
	should := make([]*pb.Condition, 0, len(f.AnyOf))
	for _, val := range f.AnyOf {
		should = append(should, fieldMatch(f.Key, val))
	}
	return &pb.Filter{Should: should}
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
