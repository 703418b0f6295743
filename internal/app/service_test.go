package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbor/api/internal/auth"
	"arbor/api/internal/authpw"
	"arbor/api/internal/config"
	"arbor/api/internal/docstore"
	"arbor/api/internal/history"
	"arbor/api/internal/search"
	"arbor/api/internal/session"
	"arbor/api/internal/tree"
	"arbor/api/internal/users"
)

func newServiceWithHistoryDir(t *testing.T, historyDir string) *Service {
	t.Helper()
	store := docstore.NewMemory()
	repo := tree.NewRepository(store)
	userStore := users.NewStore(store)
	sessions := session.NewMemoryStore()
	t.Cleanup(func() { _ = sessions.Close() })

	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	return New(cfg, Dependencies{
		Store:    store,
		Nodes:    tree.NewEngine(repo),
		Sweeper:  tree.NewSweeper(repo, true),
		Users:    userStore,
		Auth:     authpw.NewService(userStore, ""),
		Sessions: sessions,
		Search:   search.NewService(nil, search.NewScan(store)),
		History:  history.New(historyDir),
	})
}

func registerUser(t *testing.T, svc *Service, email, name string) string {
	t.Helper()
	ctx := context.Background()
	resp, err := svc.auth.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    "hunter2hunter2",
		DisplayName: name,
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.auth.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return resp.UserID
}

func TestSessionLifecycle(t *testing.T) {
	svc := newServiceWithHistoryDir(t, t.TempDir())
	ctx := context.Background()
	userID := registerUser(t, svc, "frida@example.com", "Frida")

	sess, err := svc.CreateSession(ctx, userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.UserID != userID || sess.DisplayName != "Frida" || sess.Role != "member" {
		t.Fatalf("unexpected session %+v", sess)
	}

	parsed, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed.UserID != userID || parsed.JTI != sess.JTI {
		t.Fatalf("token round trip mismatch: %+v vs %+v", parsed, sess)
	}

	// Refresh rotates and invalidates the old refresh token.
	rotated, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == sess.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("stale refresh should be gone, got %v", err)
	}

	// Logout denylists the access token until it expires.
	if err := svc.Logout(ctx, rotated, rotated.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, rotated.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("revoked token should be invalid, got %v", err)
	}
}

func TestSessionFromTokenForDeletedUser(t *testing.T) {
	svc := newServiceWithHistoryDir(t, t.TempDir())
	ctx := context.Background()

	sess, err := svc.issueSession(ctx, session.Identity{
		UserID: "usr_gone", Email: "gone@example.com", DisplayName: "Gone", Role: "member",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("token for a missing user should be invalid, got %v", err)
	}
}

func TestCreateNodeInitializesHistory(t *testing.T) {
	historyDir := t.TempDir()
	svc := newServiceWithHistoryDir(t, historyDir)
	ctx := context.Background()
	ownerID := registerUser(t, svc, "frida@example.com", "Frida")

	space, err := svc.CreateNode(ctx, ownerID, "Frida", CreateNodeInput{Kind: "space", Title: "Garden"})
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	page, err := svc.CreateNode(ctx, ownerID, "Frida", CreateNodeInput{
		Kind: "page", ParentID: space["id"].(string), Title: "Note", Body: "v1",
	})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}

	// Pages get a repo with the initial content; spaces get none.
	if _, err := os.Stat(filepath.Join(historyDir, page["id"].(string))); err != nil {
		t.Fatalf("expected history repo for page: %v", err)
	}
	if _, err := os.Stat(filepath.Join(historyDir, space["id"].(string))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no history repo for space, got %v", err)
	}
}

func TestDeleteNodeCleansUpHistory(t *testing.T) {
	historyDir := t.TempDir()
	svc := newServiceWithHistoryDir(t, historyDir)
	ctx := context.Background()
	ownerID := registerUser(t, svc, "frida@example.com", "Frida")

	space, err := svc.CreateNode(ctx, ownerID, "Frida", CreateNodeInput{Kind: "space", Title: "Garden"})
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	spaceID := space["id"].(string)
	page, err := svc.CreateNode(ctx, ownerID, "Frida", CreateNodeInput{
		Kind: "page", ParentID: spaceID, Title: "Note", Body: "v1",
	})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	pageID := page["id"].(string)

	result, err := svc.DeleteNode(ctx, ownerID, spaceID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if result["deleted"] != true {
		t.Fatalf("expected deleted=true, got %v", result)
	}

	// Cleanup runs in the background; poll until the repo is gone.
	repoPath := filepath.Join(historyDir, pageID)
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(repoPath); errors.Is(err, os.ErrNotExist) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history repo %s still present after delete", repoPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRestoreRejectsNonPages(t *testing.T) {
	svc := newServiceWithHistoryDir(t, t.TempDir())
	ctx := context.Background()
	ownerID := registerUser(t, svc, "frida@example.com", "Frida")

	space, err := svc.CreateNode(ctx, ownerID, "Frida", CreateNodeInput{Kind: "space", Title: "Garden"})
	if err != nil {
		t.Fatalf("create space: %v", err)
	}

	_, err = svc.RestoreNode(ctx, ownerID, "Frida", space["id"].(string), "deadbeef")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 domain error, got %v", err)
	}
}

func TestSearchRecordBlanksEncryptedBody(t *testing.T) {
	plain := &tree.Node{ID: "n1", OwnerID: "o1", Kind: tree.KindPage, Title: "Plain", Body: "visible"}
	enc := &tree.Node{ID: "n2", OwnerID: "o1", Kind: tree.KindPage, Title: "Locked", Body: "zyxw==", Encrypted: true}

	if rec := searchRecord(plain); rec.Body != "visible" {
		t.Errorf("plain body should index, got %q", rec.Body)
	}
	if rec := searchRecord(enc); rec.Body != "" {
		t.Errorf("ciphertext must never index, got %q", rec.Body)
	}
}

func TestNodePayloadShape(t *testing.T) {
	now := time.Now()
	space := &tree.Node{
		ID: "n1", Kind: tree.KindSpace, Title: "Garden", Position: 0,
		Children: []string{"n2"}, CreatedAt: now, UpdatedAt: now,
	}
	page := &tree.Node{
		ID: "n2", Kind: tree.KindPage, ParentID: "n1", Title: "Note", Body: "text",
		Encrypted: true, Algorithm: "aes-256-gcm", CreatedAt: now, UpdatedAt: now,
	}

	p := nodePayload(space)
	if _, has := p["parentId"]; has {
		t.Error("root payload must omit parentId")
	}
	if kids, ok := p["children"].([]string); !ok || len(kids) != 1 {
		t.Errorf("space payload children = %v", p["children"])
	}

	p = nodePayload(page)
	if p["parentId"] != "n1" {
		t.Errorf("page parentId = %v", p["parentId"])
	}
	if _, has := p["children"]; has {
		t.Error("page payload must omit children")
	}
	if p["encrypted"] != true || p["algorithm"] != "aes-256-gcm" {
		t.Errorf("encryption fields missing: %v", p)
	}

	s := nodeSummary(page)
	if _, has := s["body"]; has {
		t.Error("summary must omit body")
	}
}

func TestShortHash(t *testing.T) {
	if got := shortHash("0123456789abcdef"); got != "0123456" {
		t.Errorf("shortHash = %q", got)
	}
	if got := shortHash("abc"); got != "abc" {
		t.Errorf("short input should pass through, got %q", got)
	}
}

func TestSubtreeSourceDepthFirstOrder(t *testing.T) {
	store := docstore.NewMemory()
	engine := tree.NewEngine(tree.NewRepository(store))
	ctx := context.Background()

	space, err := engine.Create(ctx, "o1", tree.CreateInput{Kind: tree.KindSpace, Title: "Root"})
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	folderA, err := engine.Create(ctx, "o1", tree.CreateInput{Kind: tree.KindFolder, ParentID: space.ID, Title: "A"})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	pageA1, err := engine.Create(ctx, "o1", tree.CreateInput{Kind: tree.KindPage, ParentID: folderA.ID, Title: "A1"})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	pageB, err := engine.Create(ctx, "o1", tree.CreateInput{Kind: tree.KindPage, ParentID: space.ID, Title: "B"})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}

	source := subtreeSource{nodes: engine}
	nodes, err := source.ExportSubtree(ctx, "o1", space.ID)
	if err != nil {
		t.Fatalf("export subtree: %v", err)
	}

	wantIDs := []string{space.ID, folderA.ID, pageA1.ID, pageB.ID}
	wantDepths := []int{0, 1, 2, 1}
	if len(nodes) != len(wantIDs) {
		t.Fatalf("expected %d nodes, got %d", len(wantIDs), len(nodes))
	}
	for i := range nodes {
		if nodes[i].ID != wantIDs[i] {
			t.Errorf("position %d: expected %s, got %s", i, wantIDs[i], nodes[i].ID)
		}
		if nodes[i].Depth != wantDepths[i] {
			t.Errorf("position %d: expected depth %d, got %d", i, wantDepths[i], nodes[i].Depth)
		}
	}

	if _, err := source.ExportSubtree(ctx, "o1", "node_missing"); !errors.Is(err, tree.ErrNotFound) {
		t.Fatalf("missing subtree should be not found, got %v", err)
	}
}
