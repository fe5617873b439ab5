package memory

import (
	"context"
	"fmt"

	"github.com/pagevault/pagevault/internal/bot"
)

// EnsureLabel creates a label or updates its description.
func (s *Store) EnsureLabel(_ context.Context, shortName, description string) (bot.Label, error) {
	if shortName == "" {
		return bot.Label{}, fmt.Errorf("label short name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.labels[shortName]; ok {
		if description != "" {
			l.Description = description
		}
		return *l, nil
	}
	s.nextLabelID++
	l := &bot.Label{ID: s.nextLabelID, ShortName: shortName, Description: description}
	s.labels[shortName] = l
	return *l, nil
}

// AttachToURLKey binds a label to a url key. The identity does not need
// to exist yet; the tag applies to whatever identity the key eventually
// gets.
func (s *Store) AttachToURLKey(_ context.Context, shortName, urlKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.labels[shortName]
	if !ok {
		return fmt.Errorf("%w: %s", bot.ErrUnknownLabel, shortName)
	}
	set, ok := s.urlKeyLabels[urlKey]
	if !ok {
		set = make(map[int64]struct{})
		s.urlKeyLabels[urlKey] = set
	}
	set[l.ID] = struct{}{}
	return nil
}

// DetachFromURLKey removes an identity-level association. Detaching an
// absent association is a no-op.
func (s *Store) DetachFromURLKey(_ context.Context, shortName, urlKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.labels[shortName]
	if !ok {
		return fmt.Errorf("%w: %s", bot.ErrUnknownLabel, shortName)
	}
	if set, ok := s.urlKeyLabels[urlKey]; ok {
		delete(set, l.ID)
		if len(set) == 0 {
			delete(s.urlKeyLabels, urlKey)
		}
	}
	return nil
}

// AttachToVersion binds a label to an existing content version.
func (s *Store) AttachToVersion(_ context.Context, shortName, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.labels[shortName]
	if !ok {
		return fmt.Errorf("%w: %s", bot.ErrUnknownLabel, shortName)
	}
	if _, ok := s.versions[versionID]; !ok {
		return fmt.Errorf("no version %s to label", versionID)
	}
	set, ok := s.versionLabels[versionID]
	if !ok {
		set = make(map[int64]struct{})
		s.versionLabels[versionID] = set
	}
	set[l.ID] = struct{}{}
	return nil
}

// DetachFromVersion removes a version-level association.
func (s *Store) DetachFromVersion(_ context.Context, shortName, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.labels[shortName]
	if !ok {
		return fmt.Errorf("%w: %s", bot.ErrUnknownLabel, shortName)
	}
	if set, ok := s.versionLabels[versionID]; ok {
		delete(set, l.ID)
		if len(set) == 0 {
			delete(s.versionLabels, versionID)
		}
	}
	return nil
}

// LabelsForURLKey returns the identity-level labels for a url key.
func (s *Store) LabelsForURLKey(_ context.Context, urlKey string) ([]bot.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labelsFromSet(s.urlKeyLabels[urlKey]), nil
}

// LabelsForVersion returns the version-level labels for a version id.
func (s *Store) LabelsForVersion(_ context.Context, versionID string) ([]bot.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labelsFromSet(s.versionLabels[versionID]), nil
}

func (s *Store) labelsFromSet(set map[int64]struct{}) []bot.Label {
	if len(set) == 0 {
		return nil
	}
	var out []bot.Label
	for _, l := range s.labels {
		if _, ok := set[l.ID]; ok {
			out = append(out, *l)
		}
	}
	return out
}

// SweepOrphans removes identity-level associations whose url key matches
// neither an identity nor a pending task.
func (s *Store) SweepOrphans(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make(map[string]struct{}, len(s.tasks))
	for _, t := range s.tasks {
		pending[t.URLKey] = struct{}{}
	}
	removed := 0
	for urlKey, set := range s.urlKeyLabels {
		if _, ok := s.identities[urlKey]; ok {
			continue
		}
		if _, ok := pending[urlKey]; ok {
			continue
		}
		removed += len(set)
		delete(s.urlKeyLabels, urlKey)
	}
	return removed, nil
}
