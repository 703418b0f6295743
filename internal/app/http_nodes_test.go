package app

import (
	"net/http"
	"testing"
)

func TestNodeLifecycle(t *testing.T) {
	server := newTestServer(t)
	token, _ := signUp(t, server, "frida@example.com", "hunter2hunter2", "Frida")

	spaceID := createNode(t, server, token, map[string]any{"kind": "space", "title": "Garden"})
	folderID := createNode(t, server, token, map[string]any{"kind": "folder", "parentId": spaceID, "title": "Plans"})
	pageID := createNode(t, server, token, map[string]any{
		"kind": "page", "parentId": folderID, "title": "Tomatoes", "body": "Plant in May.",
	})

	rr := doJSON(t, server, http.MethodGet, "/api/nodes/"+pageID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get page status %d", rr.Code)
	}
	page := decodeJSON(t, rr)
	if page["kind"] != "page" || page["title"] != "Tomatoes" || page["body"] != "Plant in May." {
		t.Fatalf("unexpected page payload %v", page)
	}
	if page["parentId"] != folderID {
		t.Errorf("expected parentId %s, got %v", folderID, page["parentId"])
	}
	if _, hasChildren := page["children"]; hasChildren {
		t.Errorf("pages must not carry a children list, got %v", page["children"])
	}

	rr = doJSON(t, server, http.MethodGet, "/api/nodes/"+folderID, token, nil)
	folder := decodeJSON(t, rr)
	children, ok := folder["children"].([]any)
	if !ok || len(children) != 1 || children[0] != pageID {
		t.Fatalf("expected folder children [%s], got %v", pageID, folder["children"])
	}

	rr = doJSON(t, server, http.MethodPatch, "/api/nodes/"+pageID, token, map[string]any{
		"title": "Tomatoes 2026",
		"body":  "Plant in June.",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status %d body %s", rr.Code, rr.Body.String())
	}
	patched := decodeJSON(t, rr)
	if patched["title"] != "Tomatoes 2026" || patched["body"] != "Plant in June." {
		t.Fatalf("patch not applied: %v", patched)
	}

	// Partial update leaves the other field alone.
	rr = doJSON(t, server, http.MethodPatch, "/api/nodes/"+pageID, token, map[string]any{"title": "Tomatoes final"})
	patched = decodeJSON(t, rr)
	if patched["body"] != "Plant in June." {
		t.Fatalf("partial patch clobbered body: %v", patched)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/roots", token, nil)
	roots := decodeJSON(t, rr)["roots"].([]any)
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %v", roots)
	}
	root := roots[0].(map[string]any)
	if root["id"] != spaceID {
		t.Fatalf("expected root %s, got %v", spaceID, root)
	}
	if _, hasBody := root["body"]; hasBody {
		t.Errorf("listings must not include bodies, got %v", root)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/nodes/"+pageID+"/path", token, nil)
	path := decodeJSON(t, rr)["path"].([]any)
	if len(path) != 3 {
		t.Fatalf("expected path of 3, got %v", path)
	}
	gotIDs := []string{
		path[0].(map[string]any)["id"].(string),
		path[1].(map[string]any)["id"].(string),
		path[2].(map[string]any)["id"].(string),
	}
	if gotIDs[0] != spaceID || gotIDs[1] != folderID || gotIDs[2] != pageID {
		t.Fatalf("path order wrong: %v", gotIDs)
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/nodes/"+spaceID, token, nil)
	if resp := decodeJSON(t, rr); resp["deleted"] != true {
		t.Fatalf("expected deleted=true, got %v", resp)
	}

	// The cascade removed the page too.
	rr = doJSON(t, server, http.MethodGet, "/api/nodes/"+pageID, token, nil)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")

	// Deleting again reports false, not an error.
	rr = doJSON(t, server, http.MethodDelete, "/api/nodes/"+spaceID, token, nil)
	if resp := decodeJSON(t, rr); resp["deleted"] != false {
		t.Fatalf("second delete should report deleted=false, got %v", resp)
	}
}

func TestNodeValidation(t *testing.T) {
	server := newTestServer(t)
	token, _ := signUp(t, server, "frida@example.com", "hunter2hunter2", "Frida")

	spaceID := createNode(t, server, token, map[string]any{"kind": "space", "title": "Garden"})
	pageID := createNode(t, server, token, map[string]any{"kind": "page", "parentId": spaceID, "title": "Notes"})

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"bogus kind", map[string]any{"kind": "widget", "title": "x"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"space with parent", map[string]any{"kind": "space", "parentId": spaceID, "title": "x"}, http.StatusUnprocessableEntity, "INVALID_PARENT"},
		{"folder without parent", map[string]any{"kind": "folder", "title": "x"}, http.StatusUnprocessableEntity, "INVALID_PARENT"},
		{"child of a page", map[string]any{"kind": "page", "parentId": pageID, "title": "x"}, http.StatusUnprocessableEntity, "INVALID_PARENT"},
		{"missing parent id", map[string]any{"kind": "page", "parentId": "node_missing", "title": "x"}, http.StatusUnprocessableEntity, "INVALID_PARENT"},
		{"encrypted without algorithm", map[string]any{"kind": "page", "parentId": spaceID, "title": "x", "encrypted": true}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, server, http.MethodPost, "/api/nodes", token, tc.body)
			assertErrorCode(t, rr, tc.status, tc.code)
		})
	}

	// Untitled fallback.
	rr := doJSON(t, server, http.MethodPost, "/api/nodes", token, map[string]any{"kind": "page", "parentId": spaceID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("untitled create status %d", rr.Code)
	}
	if resp := decodeJSON(t, rr); resp["title"] != "Untitled" {
		t.Fatalf("expected Untitled fallback, got %v", resp["title"])
	}

	// Empty patch title is refused.
	rr = doJSON(t, server, http.MethodPatch, "/api/nodes/"+pageID, token, map[string]any{"title": "  "})
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestMoveReordersAndReparents(t *testing.T) {
	server := newTestServer(t)
	token, _ := signUp(t, server, "frida@example.com", "hunter2hunter2", "Frida")

	spaceID := createNode(t, server, token, map[string]any{"kind": "space", "title": "Garden"})
	folderA := createNode(t, server, token, map[string]any{"kind": "folder", "parentId": spaceID, "title": "A"})
	folderB := createNode(t, server, token, map[string]any{"kind": "folder", "parentId": spaceID, "title": "B"})
	pageID := createNode(t, server, token, map[string]any{"kind": "page", "parentId": folderA, "title": "Note"})

	// Reparent the page into folder B.
	rr := doJSON(t, server, http.MethodPost, "/api/nodes/"+pageID+"/move", token, map[string]any{
		"parentId": folderB, "position": 0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("move status %d body %s", rr.Code, rr.Body.String())
	}
	moved := decodeJSON(t, rr)
	if moved["parentId"] != folderB {
		t.Fatalf("expected parent %s, got %v", folderB, moved["parentId"])
	}

	rr = doJSON(t, server, http.MethodGet, "/api/nodes/"+folderA+"/children", token, nil)
	if kids := decodeJSON(t, rr)["children"].([]any); len(kids) != 0 {
		t.Fatalf("old parent still lists the page: %v", kids)
	}
	rr = doJSON(t, server, http.MethodGet, "/api/nodes/"+folderB+"/children", token, nil)
	kids := decodeJSON(t, rr)["children"].([]any)
	if len(kids) != 1 || kids[0].(map[string]any)["id"] != pageID {
		t.Fatalf("new parent does not list the page: %v", kids)
	}

	// Reorder folders inside the space; an oversized position clamps.
	rr = doJSON(t, server, http.MethodPost, "/api/nodes/"+folderA+"/move", token, map[string]any{
		"parentId": spaceID, "position": 99,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("reorder status %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodGet, "/api/nodes/"+spaceID+"/children", token, nil)
	kids = decodeJSON(t, rr)["children"].([]any)
	if len(kids) != 2 {
		t.Fatalf("expected 2 children, got %v", kids)
	}
	if kids[0].(map[string]any)["id"] != folderB || kids[1].(map[string]any)["id"] != folderA {
		t.Fatalf("reorder wrong: %v", kids)
	}

	// A folder cannot move into its own subtree.
	subFolder := createNode(t, server, token, map[string]any{"kind": "folder", "parentId": folderA, "title": "Sub"})
	rr = doJSON(t, server, http.MethodPost, "/api/nodes/"+folderA+"/move", token, map[string]any{
		"parentId": subFolder, "position": 0,
	})
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "CYCLE_DETECTED")

	// Folders cannot be moved to the root through Move.
	rr = doJSON(t, server, http.MethodPost, "/api/nodes/"+folderA+"/move", token, map[string]any{
		"parentId": "", "position": 0,
	})
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "INVALID_PARENT")
}

func TestPromoteFolderToSpace(t *testing.T) {
	server := newTestServer(t)
	token, _ := signUp(t, server, "frida@example.com", "hunter2hunter2", "Frida")

	spaceID := createNode(t, server, token, map[string]any{"kind": "space", "title": "Garden"})
	folderID := createNode(t, server, token, map[string]any{"kind": "folder", "parentId": spaceID, "title": "Plans"})
	pageID := createNode(t, server, token, map[string]any{"kind": "page", "parentId": folderID, "title": "Note"})

	rr := doJSON(t, server, http.MethodPost, "/api/nodes/"+folderID+"/promote", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("promote status %d body %s", rr.Code, rr.Body.String())
	}
	promoted := decodeJSON(t, rr)
	if promoted["kind"] != "space" {
		t.Fatalf("expected kind space, got %v", promoted["kind"])
	}
	if _, hasParent := promoted["parentId"]; hasParent {
		t.Fatalf("promoted space still names a parent: %v", promoted)
	}

	// Children stay attached.
	rr = doJSON(t, server, http.MethodGet, "/api/nodes/"+folderID+"/children", token, nil)
	kids := decodeJSON(t, rr)["children"].([]any)
	if len(kids) != 1 || kids[0].(map[string]any)["id"] != pageID {
		t.Fatalf("promoted space lost its children: %v", kids)
	}

	// It is now a second root.
	rr = doJSON(t, server, http.MethodGet, "/api/roots", token, nil)
	if roots := decodeJSON(t, rr)["roots"].([]any); len(roots) != 2 {
		t.Fatalf("expected 2 roots after promote, got %v", roots)
	}

	// Pages cannot be promoted.
	rr = doJSON(t, server, http.MethodPost, "/api/nodes/"+pageID+"/promote", token, nil)
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "INVALID_PARENT")
}

func TestSearchEndpoint(t *testing.T) {
	server := newTestServer(t)
	token, _ := signUp(t, server, "frida@example.com", "hunter2hunter2", "Frida")
	otherToken, _ := signUp(t, server, "other@example.com", "hunter2hunter2", "Other")

	spaceID := createNode(t, server, token, map[string]any{"kind": "space", "title": "Garden"})
	createNode(t, server, token, map[string]any{
		"kind": "page", "parentId": spaceID, "title": "Tomato guide", "body": "Water tomatoes daily.",
	})
	createNode(t, server, token, map[string]any{
		"kind": "page", "parentId": spaceID, "title": "Secrets",
		"body": "ciphertext-with-tomato-inside", "encrypted": true, "algorithm": "aes-256-gcm",
	})

	otherSpace := createNode(t, server, otherToken, map[string]any{"kind": "space", "title": "Other garden"})
	createNode(t, server, otherToken, map[string]any{
		"kind": "page", "parentId": otherSpace, "title": "Tomato envy", "body": "tomato tomato",
	})

	rr := doJSON(t, server, http.MethodGet, "/api/search?q=tomato", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search status %d", rr.Code)
	}
	resp := decodeJSON(t, rr)
	results := resp["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 hit (ciphertext and foreign nodes excluded), got %v", results)
	}
	hit := results[0].(map[string]any)
	if hit["title"] != "Tomato guide" {
		t.Fatalf("unexpected hit %v", hit)
	}

	// Encrypted nodes still match on their title.
	rr = doJSON(t, server, http.MethodGet, "/api/search?q=secrets", token, nil)
	if results := decodeJSON(t, rr)["results"].([]any); len(results) != 1 {
		t.Fatalf("expected title match on encrypted node, got %v", results)
	}

	// Kind filter.
	rr = doJSON(t, server, http.MethodGet, "/api/search?q=garden&kind=space", token, nil)
	results = decodeJSON(t, rr)["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["kind"] != "space" {
		t.Fatalf("kind filter failed: %v", results)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/search?q=tomato&limit=nope", token, nil)
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestSweepEndpoint(t *testing.T) {
	server := newTestServer(t)
	memberToken, _ := signUp(t, server, "frida@example.com", "hunter2hunter2", "Frida")
	adminToken, _ := signUp(t, server, testAdminEmail, "hunter2hunter2", "Admin")

	memberSpace := createNode(t, server, memberToken, map[string]any{"kind": "space", "title": "Mine"})
	createNode(t, server, memberToken, map[string]any{"kind": "page", "parentId": memberSpace, "title": "Note"})
	createNode(t, server, adminToken, map[string]any{"kind": "space", "title": "Admin space"})

	// A member sweeps only their own forest.
	rr := doJSON(t, server, http.MethodPost, "/api/admin/sweep", memberToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("member sweep status %d body %s", rr.Code, rr.Body.String())
	}
	report := decodeJSON(t, rr)["report"].(map[string]any)
	if report["ownersSwept"].(float64) != 1 {
		t.Fatalf("member sweep should cover 1 owner, got %v", report)
	}
	if report["nodesScanned"].(float64) != 2 {
		t.Fatalf("member sweep should scan 2 nodes, got %v", report)
	}

	// An admin sweeps everyone.
	rr = doJSON(t, server, http.MethodPost, "/api/admin/sweep", adminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin sweep status %d", rr.Code)
	}
	report = decodeJSON(t, rr)["report"].(map[string]any)
	if report["ownersSwept"].(float64) != 2 {
		t.Fatalf("admin sweep should cover 2 owners, got %v", report)
	}
}
