package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/pagevault/pagevault/internal/bot"
)

// FindOrCreateIdentity returns the identity for urlKey, creating it with
// a zero version count on first sight.
func (s *Store) FindOrCreateIdentity(_ context.Context, url, urlKey string) (bot.ContentIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.findOrCreateIdentityLocked(url, urlKey), nil
}

func (s *Store) findOrCreateIdentityLocked(url, urlKey string) *bot.ContentIdentity {
	if id, ok := s.identities[urlKey]; ok {
		return id
	}
	s.nextIdentityID++
	identity := &bot.ContentIdentity{
		ID:     s.nextIdentityID,
		URL:    url,
		URLKey: urlKey,
	}
	s.identities[urlKey] = identity
	s.identityByID[identity.ID] = identity
	return identity
}

// AddVersion inserts a version and increments the identity's count in
// one step. The count is mutated only here and in removeVersionLocked.
func (s *Store) AddVersion(_ context.Context, identityID int64, version bot.ContentVersion, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addVersionLocked(identityID, version, payload)
}

func (s *Store) addVersionLocked(identityID int64, version bot.ContentVersion, payload []byte) error {
	identity, ok := s.identityByID[identityID]
	if !ok {
		return fmt.Errorf("%w: id %d", bot.ErrUnknownIdentity, identityID)
	}
	if _, exists := s.versions[version.ID]; exists {
		return fmt.Errorf("%w: %s", bot.ErrDuplicateVersion, version.ID)
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = s.now()
	}
	version.IdentityID = identityID
	v := version
	s.versions[version.ID] = &v
	identity.VersionCount++
	if version.Backend == bot.BackendDatabase {
		s.inline[version.ID] = append([]byte(nil), payload...)
	}
	return nil
}

// RemoveVersion deletes the version, its inline payload and version
// labels, decrements the count, and drops the identity at zero. Removing
// an absent version is a no-op, which makes the operation idempotent no
// matter which direction the caller approaches from.
func (s *Store) RemoveVersion(_ context.Context, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeVersionLocked(versionID)
	return nil
}

func (s *Store) removeVersionLocked(versionID string) {
	v, ok := s.versions[versionID]
	if !ok {
		return
	}
	delete(s.versions, versionID)
	delete(s.inline, versionID)
	delete(s.versionLabels, versionID)
	identity, ok := s.identityByID[v.IdentityID]
	if !ok {
		return
	}
	identity.VersionCount--
	if identity.VersionCount <= 0 {
		delete(s.identities, identity.URLKey)
		delete(s.identityByID, identity.ID)
	}
}

// RemoveAllVersions purges every version and the identity, returning
// external payload locations for sink cleanup.
func (s *Store) RemoveAllVersions(_ context.Context, identityID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identityByID[identityID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", bot.ErrUnknownIdentity, identityID)
	}
	var locations []string
	for id, v := range s.versions {
		if v.IdentityID != identityID {
			continue
		}
		if v.Backend != bot.BackendDatabase && v.Location != "" {
			locations = append(locations, v.Location)
		}
		s.removeVersionLocked(id)
	}
	// A zero-version identity is not removed by the loop above.
	delete(s.identities, identity.URLKey)
	delete(s.identityByID, identity.ID)
	sort.Strings(locations)
	return locations, nil
}

// IdentityByURLKey looks up an identity without creating one.
func (s *Store) IdentityByURLKey(_ context.Context, urlKey string) (bot.ContentIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[urlKey]
	if !ok {
		return bot.ContentIdentity{}, fmt.Errorf("%w: %s", bot.ErrUnknownIdentity, urlKey)
	}
	return *identity, nil
}

// VersionsByURLKey returns every version of the identity, oldest first.
func (s *Store) VersionsByURLKey(_ context.Context, urlKey string) ([]bot.ContentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[urlKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bot.ErrUnknownIdentity, urlKey)
	}
	var out []bot.ContentVersion
	for _, v := range s.versions {
		if v.IdentityID == identity.ID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InlinePayload returns the payload body for a database-backed version.
func (s *Store) InlinePayload(_ context.Context, versionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.inline[versionID]
	if !ok {
		return nil, fmt.Errorf("no inline payload for version %s", versionID)
	}
	return append([]byte(nil), payload...), nil
}

// Commit runs the commit protocol as one atomic unit: everything is
// validated before the first mutation, so a failure leaves no partial
// identity/version/payload state and the task still queued.
func (s *Store) Commit(_ context.Context, task bot.Task, result bot.CommitResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("%w: %s", bot.ErrUnknownTask, task.ID)
	}
	if _, exists := s.versions[task.ID]; exists {
		return fmt.Errorf("%w: %s", bot.ErrDuplicateVersion, task.ID)
	}

	identity := s.findOrCreateIdentityLocked(task.URL, task.URLKey)
	version := bot.ContentVersion{
		ID:         task.ID,
		Backend:    result.Backend,
		Action:     task.Action,
		FileName:   result.FileName,
		MimeType:   result.MimeType,
		Location:   result.Location,
		Size:       result.Size,
		HashMethod: result.HashMethod,
		HashValue:  result.HashValue,
		Comment:    result.Comment,
		CreatedAt:  s.now(),
	}
	if err := s.addVersionLocked(identity.ID, version, result.Payload); err != nil {
		// Nothing beyond the identity upsert has happened; a pre-existing
		// identity is untouched and a fresh one carries no versions, so
		// roll it back to keep the unit all-or-nothing.
		if identity.VersionCount == 0 {
			delete(s.identities, identity.URLKey)
			delete(s.identityByID, identity.ID)
		}
		return err
	}
	delete(s.tasks, task.ID)
	return nil
}
