package rag

import (
	"context"
	"fmt"
)

// Health statuses and vector store states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	StoreConnected    = "connected"
	StoreDisconnected = "disconnected"
	StoreError        = "error"
)

// Health is the answerer's health report.
type Health struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	VectorStore string `json:"vector_store"`
	Collection  string `json:"collection,omitempty"`
	VectorCount uint64 `json:"vector_count"`
	Error       string `json:"error,omitempty"`
}

// Healthy reports whether the status is healthy.
func (h Health) Healthy() bool { return h.Status == StatusHealthy }

// HealthCheck verifies the collection exists and reports its point count.
func (a *Answerer) HealthCheck(ctx context.Context) Health {
	idx := a.deps.Index
	if idx == nil {
		return Health{Status: StatusUnhealthy, Message: "Health check failed: no vector index configured", VectorStore: StoreError}
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.SearchTimeout)
	defer cancel()

	broken := func(err error) Health {
		a.logger.Warn("rag health check failed", "err", err)
		return Health{
			Status:      StatusUnhealthy,
			Message:     "Health check failed: " + err.Error(),
			VectorStore: StoreError,
			Collection:  idx.Collection(),
			Error:       err.Error(),
		}
	}

	exists, err := idx.CollectionExists(ctx)
	if err != nil {
		return broken(err)
	}
	if !exists {
		return Health{
			Status:      StatusUnhealthy,
			Message:     fmt.Sprintf("Collection '%s' not found in Qdrant", idx.Collection()),
			VectorStore: StoreDisconnected,
			Collection:  idx.Collection(),
		}
	}
	stats, err := idx.Stats(ctx)
	if err != nil {
		return broken(err)
	}
	return Health{
		Status:      StatusHealthy,
		Message:     "RAG chain operational",
		VectorStore: StoreConnected,
		Collection:  idx.Collection(),
		VectorCount: stats.Points,
	}
}
