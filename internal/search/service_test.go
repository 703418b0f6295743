package search

import (
	"testing"

	"arbor/api/internal/docstore"
)

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	store := docstore.NewMemory()
	seedNode(t, store, scanNode{ID: "nod_1", OwnerID: "usr_a", Kind: "page", Title: "brewing log", Body: "hops and malt"})

	svc := NewService(nil, NewScan(store))

	resp := svc.Search(Query{Text: "brewing", OwnerID: "usr_a"})
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("expected 1 hit, got %+v", resp)
	}
	if resp.Results[0].NodeID != "nod_1" {
		t.Errorf("expected nod_1, got %s", resp.Results[0].NodeID)
	}
	if resp.Query != "brewing" {
		t.Errorf("expected query echoed back, got %q", resp.Query)
	}
}

func TestServiceRequiresOwner(t *testing.T) {
	store := docstore.NewMemory()
	seedNode(t, store, scanNode{ID: "nod_1", OwnerID: "usr_a", Kind: "page", Title: "brewing log"})

	svc := NewService(nil, NewScan(store))

	resp := svc.Search(Query{Text: "brewing"})
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Errorf("expected no results without an owner, got %+v", resp)
	}
	if resp.Results == nil {
		t.Error("results must be an empty slice, not nil")
	}
}

func TestServiceIndexNoopsWithoutMeili(t *testing.T) {
	svc := NewService(nil, NewScan(docstore.NewMemory()))

	// None of these may panic or block when Meilisearch is absent.
	svc.IndexNode(NodeRecord{ID: "nod_1"})
	svc.DeleteNode("nod_1")
	svc.DeleteNodes([]string{"nod_1", "nod_2"})
}
