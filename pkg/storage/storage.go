// Package storage provides durable blob storage keyed by namespace. The
// query cache snapshot and the offline task list both persist through it.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotFound is returned by Load when the namespace holds no blob.
var ErrNotFound = errors.New("storage: namespace not found")

// Storage persists opaque blobs under a namespace.
type Storage interface {
	Load(ctx context.Context, namespace string) ([]byte, error)
	Save(ctx context.Context, namespace string, blob []byte) error
	Remove(ctx context.Context, namespace string) error
}

var (
	storageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_storage_operations_total",
			Help: "Storage operations by backend and operation",
		},
		[]string{"backend", "operation"},
	)

	storageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_storage_errors_total",
			Help: "Failed storage operations by backend and operation",
		},
		[]string{"backend", "operation"},
	)

	storageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasksync_storage_blob_bytes",
			Help: "Size of the last blob saved per backend and namespace",
		},
		[]string{"backend", "namespace"},
	)
)

func observe(backend, op string, err error) {
	storageOpsTotal.WithLabelValues(backend, op).Inc()
	if err != nil && !errors.Is(err, ErrNotFound) {
		storageErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}

// Memory is an in-process Storage.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty Memory storage.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Load implements Storage.
func (m *Memory) Load(_ context.Context, namespace string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[namespace]
	if !ok {
		observe("memory", "load", ErrNotFound)
		return nil, ErrNotFound
	}
	observe("memory", "load", nil)
	return append([]byte(nil), b...), nil
}

// Save implements Storage.
func (m *Memory) Save(_ context.Context, namespace string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[namespace] = append([]byte(nil), blob...)
	observe("memory", "save", nil)
	storageBytes.WithLabelValues("memory", namespace).Set(float64(len(blob)))
	return nil
}

// Remove implements Storage. Removing an absent namespace is not an error.
func (m *Memory) Remove(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, namespace)
	observe("memory", "remove", nil)
	return nil
}
