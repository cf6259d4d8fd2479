package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/docsense/internal/core/domain"
)

func TestMemoryIndexAddPayload(t *testing.T) {
	var ensureCalled bool
	var upsertBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/memory":
			ensureCalled = true
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/memory/points":
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&upsertBody); err != nil {
				t.Fatalf("decode upsert body: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	index := NewMemoryIndex(server.URL, "memory")
	err := index.Add(context.Background(), domain.MemoryRecord{
		Embedding: []float32{0.6, 0.8},
		Payload:   "Question: when is it due?",
		Metadata: domain.MemoryMetadata{
			OwnerID:    "u-1",
			Provenance: domain.ProvenanceQuestion,
			Kind:       domain.MemoryKindText,
			DocumentID: "doc-1",
		},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !ensureCalled {
		t.Fatalf("expected ensure collection call")
	}
	points, ok := upsertBody["points"].([]interface{})
	if !ok || len(points) != 1 {
		t.Fatalf("unexpected upsert points: %#v", upsertBody["points"])
	}
	payload := points[0].(map[string]interface{})["payload"].(map[string]interface{})
	if payload["owner_id"] != "u-1" || payload["document_id"] != "doc-1" || payload["provenance"] != "qa_question" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if payload["text"] != "Question: when is it due?" {
		t.Fatalf("expected payload text, got %#v", payload["text"])
	}
}

func TestMemoryIndexSearchDecodesHitsWithoutFilter(t *testing.T) {
	var queryBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/collections/memory/points/query" {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&queryBody); err != nil {
				t.Fatalf("decode query body: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":{"points":[{"score":0.91,"payload":{"owner_id":"u-1","provenance":"qa_answer","kind":"text","document_id":"doc-1","text":"due friday"}}]}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	hits, err := NewMemoryIndex(server.URL, "memory").Search(context.Background(), []float32{0.1, 0.2}, 20)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Payload != "due friday" || hits[0].Metadata.OwnerID != "u-1" || hits[0].Metadata.Provenance != domain.ProvenanceAnswer {
		t.Fatalf("unexpected hit: %#v", hits[0])
	}
	if _, ok := queryBody["filter"]; ok {
		t.Fatalf("search must not filter by owner server-side: %#v", queryBody)
	}
}

func TestMemoryIndexSearchMissingCollectionIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	hits, err := NewMemoryIndex(server.URL, "memory").Search(context.Background(), []float32{1}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestMemoryIndexSearchServerErrorIsStoreUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewMemoryIndex(server.URL, "memory").Search(context.Background(), []float32{1}, 5)
	if !domain.IsKind(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
