package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/profile"
)

// ErrProfileIncomplete is returned when the requester has not finished their
// matchmaking profile.
var ErrProfileIncomplete = errors.New("matchmaking profile incomplete")

// ErrNoCandidates is returned when nobody else has a completed profile.
var ErrNoCandidates = errors.New("no candidates available")

// Suggestion is the result of a best-match query.
type Suggestion struct {
	Candidate profile.Profile `json:"candidate"`
	Score     int             `json:"score"`
}

// Service answers non-realtime "suggest a match" queries. It is independent
// of the live pairing engine, which stays strictly FIFO.
type Service struct {
	store profile.Store
}

func NewService(store profile.Store) *Service {
	return &Service{store: store}
}

// BestMatch returns the highest-scoring completed candidate for userID.
// Ties resolve to the first candidate in store order.
func (s *Service) BestMatch(ctx context.Context, userID string, mode Mode) (Suggestion, error) {
	requester, err := s.store.Get(ctx, userID)
	if err != nil {
		return Suggestion{}, fmt.Errorf("load requester profile: %w", err)
	}
	if !requester.Completed {
		return Suggestion{}, ErrProfileIncomplete
	}

	candidates, err := s.store.ListCompleted(ctx, userID)
	if err != nil {
		return Suggestion{}, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return Suggestion{}, ErrNoCandidates
	}

	best := Suggestion{Score: -1}
	for _, c := range candidates {
		if score := Score(requester, c, mode); score > best.Score {
			best = Suggestion{Candidate: c, Score: score}
		}
	}
	return best, nil
}
