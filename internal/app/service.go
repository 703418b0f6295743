// Package app wires the node tree, auth, search, history, attachments
// and export behind one service and its HTTP surface.
package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"arbor/api/internal/auth"
	"arbor/api/internal/authpw"
	"arbor/api/internal/blob"
	"arbor/api/internal/config"
	"arbor/api/internal/docstore"
	"arbor/api/internal/email"
	"arbor/api/internal/export"
	"arbor/api/internal/history"
	"arbor/api/internal/search"
	"arbor/api/internal/session"
	"arbor/api/internal/tree"
	"arbor/api/internal/users"
	"arbor/api/internal/util"
)

// Session is an authenticated caller: the issued tokens plus the
// identity snapshot handlers act on.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// CreateNodeInput is the body of POST /api/nodes.
type CreateNodeInput struct {
	Kind      string `json:"kind"`
	ParentID  string `json:"parentId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Encrypted bool   `json:"encrypted"`
	Algorithm string `json:"algorithm"`
}

// UpdateNodeInput is the body of PATCH /api/nodes/{id}. Nil fields are
// left untouched.
type UpdateNodeInput struct {
	Title     *string `json:"title"`
	Body      *string `json:"body"`
	Encrypted *bool   `json:"encrypted"`
	Algorithm *string `json:"algorithm"`
}

// MoveNodeInput is the body of POST /api/nodes/{id}/move. An empty
// parentId is only legal for spaces, which reorder within the roots.
type MoveNodeInput struct {
	ParentID string `json:"parentId"`
	Position int    `json:"position"`
}

type nodeStore interface {
	Create(ctx context.Context, ownerID string, in tree.CreateInput) (*tree.Node, error)
	Move(ctx context.Context, ownerID, nodeID, newParentID string, newPosition int) (*tree.Node, error)
	Promote(ctx context.Context, ownerID, nodeID string) (*tree.Node, error)
	Delete(ctx context.Context, ownerID, nodeID string) (bool, error)
	UpdateContent(ctx context.Context, ownerID, nodeID string, in tree.ContentInput) (*tree.Node, error)
	Get(ctx context.Context, ownerID, nodeID string) (*tree.Node, error)
	ListChildren(ctx context.Context, ownerID, parentID string) ([]*tree.Node, error)
	ListRoots(ctx context.Context, ownerID string) ([]*tree.Node, error)
	ResolvePath(ctx context.Context, ownerID, nodeID string) ([]*tree.Node, error)
	Subtree(ctx context.Context, ownerID, nodeID string) ([]*tree.Node, error)
}

type userStore interface {
	GetUserByID(ctx context.Context, id string) (users.User, error)
	GetUserByEmail(ctx context.Context, email string) (users.User, error)
}

// SessionStore is the refresh-session and token-denylist backend.
// Redis in deployments, process memory in dev and tests.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, identity session.Identity, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.Identity, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type historyStore interface {
	EnsureRepo(nodeID string, initial history.Content, author string) error
	Commit(nodeID string, content history.Content, author, message string) (history.CommitInfo, error)
	History(nodeID string, limit int) ([]history.CommitInfo, error)
	ContentAt(nodeID, hash string) (history.Content, error)
	Remove(nodeID string) error
}

type blobStore interface {
	Upload(ctx context.Context, ownerID, nodeID, filename, contentType string, size int64, r io.Reader) (blob.Attachment, error)
	Open(ctx context.Context, ownerID, attachmentID string) (blob.Attachment, io.ReadCloser, error)
	Delete(ctx context.Context, ownerID, attachmentID string) error
	ListByNode(ctx context.Context, ownerID, nodeID string) ([]blob.Attachment, error)
	DeleteByNode(ctx context.Context, ownerID, nodeID string) (int, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexNode(rec search.NodeRecord)
	DeleteNodes(ids []string)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, displayName, verificationURL string) error
	SendPasswordResetEmail(to, displayName, resetURL string) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Dependencies is everything New needs. Search, History, Blobs and
// Mail may be nil; the matching surface degrades or disables instead
// of failing at startup.
type Dependencies struct {
	Store    docstore.Store
	Nodes    *tree.Engine
	Sweeper  *tree.Sweeper
	Users    *users.Store
	Auth     *authpw.Service
	Sessions SessionStore
	Search   *search.Service
	History  *history.Service
	Blobs    *blob.Service
	Mail     *email.Service
}

type Service struct {
	cfg      config.Config
	store    docstore.Store
	nodes    nodeStore
	sweeper  *tree.Sweeper
	users    userStore
	auth     *authpw.Service
	sessions SessionStore
	search   searchIndex
	history  historyStore
	blobs    blobStore
	mail     mailer
	exports  exporter
}

// New builds the service. Optional dependencies are checked for nil
// here so the interface fields stay nil rather than holding typed
// nil pointers.
func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sweeper:  deps.Sweeper,
		auth:     deps.Auth,
		sessions: deps.Sessions,
	}
	if deps.Nodes != nil {
		s.nodes = deps.Nodes
		s.exports = export.NewService(subtreeSource{nodes: s.nodes})
	}
	if deps.Users != nil {
		s.users = deps.Users
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.History != nil {
		s.history = deps.History
	}
	if deps.Blobs != nil {
		s.blobs = deps.Blobs
	}
	if deps.Mail != nil {
		s.mail = deps.Mail
	}
	return s
}

// Ping reports docstore connectivity, for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions reports session store connectivity.
func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// AuthPasswordService exposes the sign-up/sign-in flows to the HTTP
// layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.auth
}

// SMTPConfigured reports whether account mail can actually be sent.
// When it cannot, handlers return verification and reset tokens in
// responses instead (dev bypass).
func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// DeliverVerificationEmail sends the verification link in the
// background. Failures are logged, never surfaced to the signup call.
func (s *Service) DeliverVerificationEmail(emailAddr, displayName, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	link := s.cfg.BaseURL + "/verify-email?token=" + url.QueryEscape(token)
	go func() {
		if err := s.mail.SendVerificationEmail(emailAddr, displayName, link); err != nil {
			log.Printf("send verification email: %v", err)
		}
	}()
}

// DeliverPasswordResetEmail sends the reset link in the background.
func (s *Service) DeliverPasswordResetEmail(emailAddr, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	link := s.cfg.BaseURL + "/reset-password?token=" + url.QueryEscape(token)
	go func() {
		name := emailAddr
		if user, err := s.users.GetUserByEmail(context.Background(), emailAddr); err == nil && user.DisplayName != "" {
			name = user.DisplayName
		}
		if err := s.mail.SendPasswordResetEmail(emailAddr, name, link); err != nil {
			log.Printf("send password reset email: %v", err)
		}
	}()
}

// CreateSession issues tokens for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, session.Identity{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		CreatedAt:   time.Now(),
	})
}

// Refresh rotates a refresh token: the old session is revoked and a
// new token pair issued from the identity snapshot it carried.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	identity, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, identity)
}

func (s *Service) issueSession(ctx context.Context, identity session.Identity) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   identity.UserID,
		Email: identity.Email,
		Role:  identity.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), identity, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       identity.UserID,
		Email:        identity.Email,
		DisplayName:  identity.DisplayName,
		Role:         identity.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token. The user is re-read so
// role changes and deletions take effect within the token lifetime.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the access token and the presented refresh token.
// Both revocations are best-effort; logout never fails.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateNode adds a space, folder or page to the caller's forest.
func (s *Service) CreateNode(ctx context.Context, ownerID, actor string, in CreateNodeInput) (map[string]any, error) {
	kind := tree.Kind(strings.ToLower(strings.TrimSpace(in.Kind)))
	if !kind.Valid() {
		return nil, validationError("kind must be space, folder or page")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled"
	}
	if in.Encrypted && strings.TrimSpace(in.Algorithm) == "" {
		return nil, validationError("algorithm is required for encrypted bodies")
	}

	node, err := s.nodes.Create(ctx, ownerID, tree.CreateInput{
		Kind:      kind,
		ParentID:  strings.TrimSpace(in.ParentID),
		Title:     title,
		Body:      in.Body,
		Encrypted: in.Encrypted,
		Algorithm: strings.TrimSpace(in.Algorithm),
	})
	if err != nil {
		return nil, err
	}

	if node.Kind == tree.KindPage && s.history != nil {
		if err := s.history.EnsureRepo(node.ID, historyContent(node), actor); err != nil {
			log.Printf("history init %s: %v", node.ID, err)
		}
	}
	s.indexNode(node)
	return nodePayload(node), nil
}

// GetNode returns one node with its content.
func (s *Service) GetNode(ctx context.Context, ownerID, nodeID string) (map[string]any, error) {
	node, err := s.nodes.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	return nodePayload(node), nil
}

// UpdateNodeContent applies a partial content update. Structure is
// untouched; pages get a history commit, the index is refreshed.
func (s *Service) UpdateNodeContent(ctx context.Context, ownerID, actor, nodeID string, in UpdateNodeInput) (map[string]any, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, validationError("title cannot be empty")
	}

	node, err := s.nodes.UpdateContent(ctx, ownerID, nodeID, tree.ContentInput{
		Title:     in.Title,
		Body:      in.Body,
		Encrypted: in.Encrypted,
		Algorithm: in.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	if node.Kind == tree.KindPage && s.history != nil {
		if _, err := s.history.Commit(node.ID, historyContent(node), actor, "Update content"); err != nil {
			log.Printf("history commit %s: %v", node.ID, err)
		}
	}
	s.indexNode(node)
	return nodePayload(node), nil
}

// MoveNode reparents or reorders a node.
func (s *Service) MoveNode(ctx context.Context, ownerID, nodeID string, in MoveNodeInput) (map[string]any, error) {
	node, err := s.nodes.Move(ctx, ownerID, nodeID, strings.TrimSpace(in.ParentID), in.Position)
	if err != nil {
		return nil, err
	}
	return nodePayload(node), nil
}

// PromoteNode turns a folder into a root space.
func (s *Service) PromoteNode(ctx context.Context, ownerID, nodeID string) (map[string]any, error) {
	node, err := s.nodes.Promote(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	s.indexNode(node)
	return nodePayload(node), nil
}

// DeleteNode cascades over the subtree. Search entries, history repos
// and attachments of deleted nodes are cleaned up in the background.
func (s *Service) DeleteNode(ctx context.Context, ownerID, nodeID string) (map[string]any, error) {
	subtree, err := s.nodes.Subtree(ctx, ownerID, nodeID)
	if err != nil && !errors.Is(err, tree.ErrNotFound) {
		return nil, err
	}

	deleted, err := s.nodes.Delete(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if deleted {
		s.cleanupAfterDelete(ownerID, subtree)
	}
	return map[string]any{"deleted": deleted}, nil
}

func (s *Service) cleanupAfterDelete(ownerID string, subtree []*tree.Node) {
	if len(subtree) == 0 {
		return
	}
	ids := make([]string, 0, len(subtree))
	for _, n := range subtree {
		ids = append(ids, n.ID)
	}
	nodes := subtree
	go func() {
		if s.search != nil {
			s.search.DeleteNodes(ids)
		}
		ctx := context.Background()
		for _, n := range nodes {
			if s.history != nil && n.Kind == tree.KindPage {
				if err := s.history.Remove(n.ID); err != nil {
					log.Printf("history remove %s: %v", n.ID, err)
				}
			}
			if s.blobs != nil {
				if _, err := s.blobs.DeleteByNode(ctx, ownerID, n.ID); err != nil {
					log.Printf("attachment cleanup %s: %v", n.ID, err)
				}
			}
		}
	}()
}

// ListRoots returns the caller's spaces in root order.
func (s *Service) ListRoots(ctx context.Context, ownerID string) (map[string]any, error) {
	roots, err := s.nodes.ListRoots(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"roots": nodeSummaries(roots)}, nil
}

// ListChildren returns a node's children in position order.
func (s *Service) ListChildren(ctx context.Context, ownerID, nodeID string) (map[string]any, error) {
	if _, err := s.nodes.Get(ctx, ownerID, nodeID); err != nil {
		return nil, err
	}
	children, err := s.nodes.ListChildren(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"children": nodeSummaries(children)}, nil
}

// ResolvePath returns the chain from root space to the node.
func (s *Service) ResolvePath(ctx context.Context, ownerID, nodeID string) (map[string]any, error) {
	path, err := s.nodes.ResolvePath(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": nodeSummaries(path)}, nil
}

// NodeHistory lists a page's revisions, newest first.
func (s *Service) NodeHistory(ctx context.Context, ownerID, nodeID string, limit int) (map[string]any, error) {
	node, err := s.nodes.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, unavailableError("HISTORY_UNAVAILABLE", "History not configured")
	}

	revisions, err := s.history.History(node.ID, limit)
	if err != nil && !errors.Is(err, history.ErrNoHistory) {
		return nil, err
	}
	if revisions == nil {
		revisions = []history.CommitInfo{}
	}
	return map[string]any{"nodeId": node.ID, "revisions": revisions}, nil
}

// NodeContentAt returns the content snapshot at one revision.
func (s *Service) NodeContentAt(ctx context.Context, ownerID, nodeID, hash string) (map[string]any, error) {
	node, err := s.nodes.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, unavailableError("HISTORY_UNAVAILABLE", "History not configured")
	}

	content, err := s.history.ContentAt(node.ID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"nodeId":    node.ID,
		"hash":      hash,
		"title":     content.Title,
		"body":      content.Body,
		"encrypted": content.Encrypted,
		"algorithm": content.Algorithm,
	}, nil
}

// RestoreNode writes a past revision's content back as a new forward
// commit; history stays linear.
func (s *Service) RestoreNode(ctx context.Context, ownerID, actor, nodeID, hash string) (map[string]any, error) {
	node, err := s.nodes.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Kind != tree.KindPage {
		return nil, validationError("only pages have history")
	}
	if s.history == nil {
		return nil, unavailableError("HISTORY_UNAVAILABLE", "History not configured")
	}

	content, err := s.history.ContentAt(node.ID, hash)
	if err != nil {
		return nil, err
	}

	updated, err := s.nodes.UpdateContent(ctx, ownerID, nodeID, tree.ContentInput{
		Title:     &content.Title,
		Body:      &content.Body,
		Encrypted: &content.Encrypted,
		Algorithm: &content.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.history.Commit(updated.ID, historyContent(updated), actor, "Restore from "+shortHash(hash)); err != nil {
		log.Printf("history commit %s: %v", updated.ID, err)
	}
	s.indexNode(updated)
	return nodePayload(updated), nil
}

// SearchNodes runs an owner-scoped search.
func (s *Service) SearchNodes(ownerID, text, kind string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{
		Text:    text,
		OwnerID: ownerID,
		Kind:    kind,
		Limit:   limit,
		Offset:  offset,
	})
}

// Sweep runs the repair sweep: admins over every owner, everyone else
// over their own forest.
func (s *Service) Sweep(ctx context.Context, sess Session) (map[string]any, error) {
	var (
		report tree.Report
		err    error
	)
	if sess.Role == "admin" {
		report, err = s.sweeper.SweepAll(ctx)
	} else {
		report, err = s.sweeper.SweepOwner(ctx, sess.UserID)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"report": report}, nil
}

// UploadAttachment stores a file against a node.
func (s *Service) UploadAttachment(ctx context.Context, ownerID, nodeID, filename, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if s.blobs == nil {
		return nil, unavailableError("ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured")
	}
	if _, err := s.nodes.Get(ctx, ownerID, nodeID); err != nil {
		return nil, err
	}
	att, err := s.blobs.Upload(ctx, ownerID, nodeID, filename, contentType, size, r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"attachment": att}, nil
}

// ListAttachments lists a node's attachments.
func (s *Service) ListAttachments(ctx context.Context, ownerID, nodeID string) (map[string]any, error) {
	if s.blobs == nil {
		return nil, unavailableError("ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured")
	}
	if _, err := s.nodes.Get(ctx, ownerID, nodeID); err != nil {
		return nil, err
	}
	attachments, err := s.blobs.ListByNode(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"attachments": attachments}, nil
}

// OpenAttachment returns attachment metadata and a byte stream the
// handler copies to the response.
func (s *Service) OpenAttachment(ctx context.Context, ownerID, attachmentID string) (blob.Attachment, io.ReadCloser, error) {
	if s.blobs == nil {
		return blob.Attachment{}, nil, unavailableError("ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured")
	}
	return s.blobs.Open(ctx, ownerID, attachmentID)
}

// DeleteAttachment removes one attachment, bytes and metadata.
func (s *Service) DeleteAttachment(ctx context.Context, ownerID, attachmentID string) (map[string]any, error) {
	if s.blobs == nil {
		return nil, unavailableError("ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured")
	}
	if err := s.blobs.Delete(ctx, ownerID, attachmentID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

// ExportNode renders the node's subtree in the requested format.
func (s *Service) ExportNode(ctx context.Context, ownerID, nodeID, format string) (*export.Result, error) {
	return s.exports.Export(ctx, export.Request{
		OwnerID: ownerID,
		NodeID:  nodeID,
		Format:  export.Format(strings.ToLower(strings.TrimSpace(format))),
	})
}

// indexNode pushes a node to the search index; ciphertext never goes.
func (s *Service) indexNode(n *tree.Node) {
	if s.search == nil {
		return
	}
	s.search.IndexNode(searchRecord(n))
}

func searchRecord(n *tree.Node) search.NodeRecord {
	rec := search.NodeRecord{
		ID:      n.ID,
		OwnerID: n.OwnerID,
		Kind:    string(n.Kind),
		Title:   n.Title,
	}
	if !n.Encrypted {
		rec.Body = n.Body
	}
	return rec
}

func historyContent(n *tree.Node) history.Content {
	return history.Content{
		Title:     n.Title,
		Body:      n.Body,
		Encrypted: n.Encrypted,
		Algorithm: n.Algorithm,
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// nodePayload is the full node representation, content included.
func nodePayload(n *tree.Node) map[string]any {
	p := nodeSummary(n)
	p["body"] = n.Body
	if n.Kind.Foldable() {
		children := n.Children
		if children == nil {
			children = []string{}
		}
		p["children"] = children
	}
	return p
}

// nodeSummary is the listing representation: structure and title, no
// body.
func nodeSummary(n *tree.Node) map[string]any {
	p := map[string]any{
		"id":        n.ID,
		"kind":      string(n.Kind),
		"title":     n.Title,
		"position":  n.Position,
		"createdAt": n.CreatedAt,
		"updatedAt": n.UpdatedAt,
	}
	if n.ParentID != "" {
		p["parentId"] = n.ParentID
	}
	if n.Encrypted {
		p["encrypted"] = true
		p["algorithm"] = n.Algorithm
	}
	return p
}

func nodeSummaries(nodes []*tree.Node) []map[string]any {
	items := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, nodeSummary(n))
	}
	return items
}

// subtreeSource adapts the engine's breadth-first subtree to the
// depth-first, depth-annotated order the export renderer wants.
type subtreeSource struct {
	nodes nodeStore
}

func (s subtreeSource) ExportSubtree(ctx context.Context, ownerID, nodeID string) ([]export.Node, error) {
	flat, err := s.nodes.Subtree(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if len(flat) == 0 {
		return nil, tree.ErrNotFound
	}

	children := make(map[string][]*tree.Node)
	for _, n := range flat[1:] {
		children[n.ParentID] = append(children[n.ParentID], n)
	}
	for _, siblings := range children {
		sort.Slice(siblings, func(i, j int) bool {
			if siblings[i].Position != siblings[j].Position {
				return siblings[i].Position < siblings[j].Position
			}
			return siblings[i].ID < siblings[j].ID
		})
	}

	out := make([]export.Node, 0, len(flat))
	var walk func(n *tree.Node, depth int)
	walk = func(n *tree.Node, depth int) {
		out = append(out, export.Node{
			ID:        n.ID,
			Kind:      string(n.Kind),
			Title:     n.Title,
			Body:      n.Body,
			Encrypted: n.Encrypted,
			Depth:     depth,
		})
		for _, c := range children[n.ID] {
			walk(c, depth+1)
		}
	}
	walk(flat[0], 0)
	return out, nil
}
