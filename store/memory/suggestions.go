package memory

import (
	"context"
	"sort"
	"time"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/suggestion"
)

// SuggestionStore implements suggestion.Store.
type SuggestionStore struct{ s *Store }

func (ss *SuggestionStore) Insert(_ context.Context, sg suggestion.Suggestion) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if sg.Status == suggestion.StatusPending {
		for _, existing := range ss.s.suggestions {
			if existing.EmployeeID == sg.EmployeeID && existing.Status == suggestion.StatusPending {
				return generic.ErrDuplicate
			}
		}
	}
	ss.s.suggestions[sg.ID] = sg
	return nil
}

func (ss *SuggestionStore) Get(_ context.Context, id string) (*suggestion.Suggestion, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	sg, ok := ss.s.suggestions[id]
	if !ok {
		return nil, nil
	}
	return &sg, nil
}

func (ss *SuggestionStore) List(_ context.Context, status suggestion.Status) ([]suggestion.Suggestion, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	out := []suggestion.Suggestion{}
	for _, sg := range ss.s.suggestions {
		if status == "" || sg.Status == status {
			out = append(out, sg)
		}
	}
	sortSuggestions(out)
	return out, nil
}

func (ss *SuggestionStore) ForEmployee(_ context.Context, employee generic.EmployeeID) ([]suggestion.Suggestion, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	out := []suggestion.Suggestion{}
	for _, sg := range ss.s.suggestions {
		if sg.EmployeeID == employee {
			out = append(out, sg)
		}
	}
	sortSuggestions(out)
	return out, nil
}

func (ss *SuggestionStore) CompareAndSet(_ context.Context, next suggestion.Suggestion, from suggestion.Status) (bool, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	current, ok := ss.s.suggestions[next.ID]
	if !ok || current.Status != from {
		return false, nil
	}
	ss.s.suggestions[next.ID] = next
	return true, nil
}

func (ss *SuggestionStore) ExpireDue(_ context.Context, now time.Time) ([]suggestion.Suggestion, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	var out []suggestion.Suggestion
	for id, sg := range ss.s.suggestions {
		if sg.Status == suggestion.StatusPending && sg.PastDue(now) {
			sg.Status = suggestion.StatusExpired
			ss.s.suggestions[id] = sg
			out = append(out, sg)
		}
	}
	sortSuggestions(out)
	return out, nil
}

func sortSuggestions(ss []suggestion.Suggestion) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].SuggestedAt.Equal(ss[j].SuggestedAt) {
			return ss[i].SuggestedAt.Before(ss[j].SuggestedAt)
		}
		return ss[i].ID < ss[j].ID
	})
}
