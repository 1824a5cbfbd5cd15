package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hq-ai/hq/pkg/models"
)

// ShareService manages read-only path-prefix grants between users. Shares
// gate object-store access through generated policy documents; the relay
// itself never consults them.
type ShareService struct {
	mu     sync.RWMutex
	shares map[string]*models.Share
}

// NewShareService creates an empty share store.
func NewShareService() *ShareService {
	return &ShareService{shares: make(map[string]*models.Share)}
}

// Create validates and stores a new share grant.
func (s *ShareService) Create(ownerID, recipientID string, paths []string, expiresAt *time.Time) (*models.Share, error) {
	if ownerID == "" {
		return nil, NewValidationError("ownerId", "required")
	}
	if recipientID == "" {
		return nil, NewValidationError("recipientId", "required")
	}
	if len(paths) == 0 {
		return nil, NewValidationError("paths", "at least one path is required")
	}
	for _, p := range paths {
		if p == "" {
			return nil, NewValidationError("paths", "empty path")
		}
	}

	share := &models.Share{
		ShareID:     uuid.New().String(),
		OwnerID:     ownerID,
		RecipientID: recipientID,
		Paths:       append([]string(nil), paths...),
		Permissions: []models.SharePermission{models.PermissionRead},
		Status:      models.ShareActive,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}

	s.mu.Lock()
	s.shares[share.ShareID] = share
	s.mu.Unlock()
	return share.Clone(), nil
}

// Get returns a share, lazily marking it expired when past its deadline.
func (s *ShareService) Get(shareID string) (*models.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	share, ok := s.shares[shareID]
	if !ok {
		return nil, ErrNotFound
	}
	s.expireLocked(share)
	return share.Clone(), nil
}

// List returns shares filtered by any non-empty criteria.
func (s *ShareService) List(ownerID, recipientID string, status models.ShareStatus) []*models.Share {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Share, 0)
	for _, share := range s.shares {
		s.expireLocked(share)
		if ownerID != "" && share.OwnerID != ownerID {
			continue
		}
		if recipientID != "" && share.RecipientID != recipientID {
			continue
		}
		if status != "" && share.Status != status {
			continue
		}
		out = append(out, share.Clone())
	}
	return out
}

// UpdatePaths replaces the path set of an active share.
func (s *ShareService) UpdatePaths(shareID string, paths []string) (*models.Share, error) {
	if len(paths) == 0 {
		return nil, NewValidationError("paths", "at least one path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	share, ok := s.shares[shareID]
	if !ok {
		return nil, ErrNotFound
	}
	s.expireLocked(share)
	if share.Status != models.ShareActive {
		return nil, fmt.Errorf("%w: share is %s", ErrConflict, share.Status)
	}
	share.Paths = append([]string(nil), paths...)
	return share.Clone(), nil
}

// Revoke marks the share revoked. Revoking an already-revoked share is a
// no-op returning the revoked record.
func (s *ShareService) Revoke(shareID string) (*models.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	share, ok := s.shares[shareID]
	if !ok {
		return nil, ErrNotFound
	}
	share.Status = models.ShareRevoked
	return share.Clone(), nil
}

// Delete removes the share record.
func (s *ShareService) Delete(shareID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[shareID]; !ok {
		return ErrNotFound
	}
	delete(s.shares, shareID)
	return nil
}

// CheckAccess reports whether the recipient may read the given path under
// the owner's prefix through any active share.
func (s *ShareService) CheckAccess(recipientID, ownerID, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, share := range s.shares {
		s.expireLocked(share)
		if share.Status != models.ShareActive {
			continue
		}
		if share.RecipientID != recipientID || share.OwnerID != ownerID {
			continue
		}
		for _, prefix := range share.Paths {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}

// AccessiblePaths lists every path prefix the user can read via active
// shares, grouped by owner.
func (s *ShareService) AccessiblePaths(recipientID string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for _, share := range s.shares {
		s.expireLocked(share)
		if share.Status != models.ShareActive || share.RecipientID != recipientID {
			continue
		}
		out[share.OwnerID] = append(out[share.OwnerID], share.Paths...)
	}
	return out
}

// PolicyDocument is an object-store policy generated from a share.
type PolicyDocument struct {
	Version    string            `json:"Version"`
	Statements []PolicyStatement `json:"Statement"`
}

// PolicyStatement grants read actions on one shared prefix.
type PolicyStatement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource"`
}

// Policy renders the share as a read-only object-store policy document.
func (s *ShareService) Policy(shareID, bucket string) (*PolicyDocument, error) {
	share, err := s.Get(shareID)
	if err != nil {
		return nil, err
	}

	doc := &PolicyDocument{Version: "2012-10-17"}
	for _, prefix := range share.Paths {
		prefix = strings.TrimPrefix(prefix, "/")
		doc.Statements = append(doc.Statements, PolicyStatement{
			Effect: "Allow",
			Action: []string{"s3:GetObject", "s3:ListBucket"},
			Resource: []string{
				fmt.Sprintf("arn:aws:s3:::%s/%s*", bucket, prefix),
			},
		})
	}
	return doc, nil
}

// expireLocked lazily transitions a share past its deadline to expired.
func (s *ShareService) expireLocked(share *models.Share) {
	if share.Status == models.ShareActive && share.ExpiresAt != nil &&
		time.Now().After(*share.ExpiresAt) {
		share.Status = models.ShareExpired
	}
}
