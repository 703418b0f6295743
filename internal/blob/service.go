// Package blob stores node attachments: bytes in an S3-compatible
// object store, metadata in the document store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"arbor/api/internal/docstore"
	"arbor/api/internal/util"
)

const attachmentsCollection = "attachments"

var (
	ErrNotFound = errors.New("attachment not found")
	ErrTooLarge = errors.New("attachment exceeds size limit")
)

// Attachment is the metadata document for one stored object.
type Attachment struct {
	ID          string    `json:"id" bson:"id"`
	OwnerID     string    `json:"ownerId" bson:"ownerId"`
	NodeID      string    `json:"nodeId" bson:"nodeId"`
	Filename    string    `json:"filename" bson:"filename"`
	ContentType string    `json:"contentType" bson:"contentType"`
	Size        int64     `json:"size" bson:"size"`
	Key         string    `json:"-" bson:"key"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

type docStore interface {
	Get(ctx context.Context, collection, id string, out any) (docstore.Revision, error)
	Find(ctx context.Context, collection string, filter docstore.Filter, sort []docstore.SortField, out any) error
	Insert(ctx context.Context, collection, id string, doc any) (string, docstore.Revision, error)
	Delete(ctx context.Context, collection, id string, rev docstore.Revision) error
}

// Config carries the object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxBytes  int64
}

type Service struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
	store    docStore
}

// New connects to the object store. It does not create the bucket;
// call EnsureBucket once at startup.
func New(cfg Config, store docStore) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return &Service{
		client:   client,
		bucket:   cfg.Bucket,
		maxBytes: cfg.MaxBytes,
		store:    store,
	}, nil
}

// EnsureBucket creates the attachment bucket if it does not exist.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// A concurrent boot may have won the race.
		if exists, checkErr := s.client.BucketExists(ctx, s.bucket); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload streams one attachment into the object store and records its
// metadata. size must be the exact byte count of the payload.
func (s *Service) Upload(ctx context.Context, ownerID, nodeID, filename, contentType string, size int64, r io.Reader) (Attachment, error) {
	if s.maxBytes > 0 && size > s.maxBytes {
		return Attachment{}, ErrTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att := Attachment{
		ID:          util.NewID("att"),
		OwnerID:     ownerID,
		NodeID:      nodeID,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	att.Key = fmt.Sprintf("%s/%s/%s", ownerID, nodeID, att.ID)

	if _, err := s.client.PutObject(ctx, s.bucket, att.Key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return Attachment{}, fmt.Errorf("store attachment bytes: %w", err)
	}

	if _, _, err := s.store.Insert(ctx, attachmentsCollection, att.ID, att); err != nil {
		_ = s.client.RemoveObject(ctx, s.bucket, att.Key, minio.RemoveObjectOptions{})
		return Attachment{}, fmt.Errorf("store attachment metadata: %w", err)
	}

	return att, nil
}

// Open returns the metadata and a reader for one attachment. The
// caller closes the reader.
func (s *Service) Open(ctx context.Context, ownerID, attachmentID string) (Attachment, io.ReadCloser, error) {
	att, err := s.get(ctx, ownerID, attachmentID)
	if err != nil {
		return Attachment{}, nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, att.Key, minio.GetObjectOptions{})
	if err != nil {
		return Attachment{}, nil, fmt.Errorf("open attachment bytes: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing object now instead of
	// on the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Attachment{}, nil, ErrNotFound
		}
		return Attachment{}, nil, fmt.Errorf("stat attachment bytes: %w", err)
	}

	return att, obj, nil
}

// Delete removes one attachment, bytes first.
func (s *Service) Delete(ctx context.Context, ownerID, attachmentID string) error {
	att, err := s.get(ctx, ownerID, attachmentID)
	if err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, att.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove attachment bytes: %w", err)
	}
	if err := s.store.Delete(ctx, attachmentsCollection, att.ID, 0); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("remove attachment metadata: %w", err)
	}
	return nil
}

// ListByNode returns a node's attachments in upload order.
func (s *Service) ListByNode(ctx context.Context, ownerID, nodeID string) ([]Attachment, error) {
	var atts []Attachment
	filter := docstore.Filter{"ownerId": ownerID, "nodeId": nodeID}
	sortBy := []docstore.SortField{{Field: "createdAt"}, {Field: "id"}}
	if err := s.store.Find(ctx, attachmentsCollection, filter, sortBy, &atts); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	if atts == nil {
		atts = []Attachment{}
	}
	return atts, nil
}

// DeleteByNode removes every attachment of a node, used when the node
// itself is deleted. Returns the number removed.
func (s *Service) DeleteByNode(ctx context.Context, ownerID, nodeID string) (int, error) {
	atts, err := s.ListByNode(ctx, ownerID, nodeID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, att := range atts {
		if err := s.client.RemoveObject(ctx, s.bucket, att.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove attachment bytes %s: %w", att.ID, err)
		}
		if err := s.store.Delete(ctx, attachmentsCollection, att.ID, 0); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return removed, fmt.Errorf("remove attachment metadata %s: %w", att.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Service) get(ctx context.Context, ownerID, attachmentID string) (Attachment, error) {
	var att Attachment
	_, err := s.store.Get(ctx, attachmentsCollection, attachmentID, &att)
	if errors.Is(err, docstore.ErrNotFound) {
		return Attachment{}, ErrNotFound
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment %s: %w", attachmentID, err)
	}
	// Foreign attachments are indistinguishable from absent ones.
	if att.OwnerID != ownerID {
		return Attachment{}, ErrNotFound
	}
	return att, nil
}
