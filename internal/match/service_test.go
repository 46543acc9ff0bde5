package match

import (
	"context"
	"errors"
	"testing"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/profile"
)

func seedStore(t *testing.T, profiles ...profile.Profile) profile.Store {
	t.Helper()
	store := profile.NewInMemoryStore()
	for _, p := range profiles {
		if err := store.Upsert(context.Background(), p); err != nil {
			t.Fatalf("seed profile %s: %v", p.UserID, err)
		}
	}
	return store
}

func TestBestMatchPicksHighestScore(t *testing.T) {
	store := seedStore(t,
		profile.Profile{UserID: "me", Gender: "female", College: "IIT", Completed: true},
		profile.Profile{UserID: "sameGender", Gender: "female", Completed: true},
		profile.Profile{UserID: "oppositeGender", Gender: "male", Completed: true},
	)

	svc := NewService(store)
	got, err := svc.BestMatch(context.Background(), "me", ModeAny)
	if err != nil {
		t.Fatalf("BestMatch() error = %v", err)
	}
	if got.Candidate.UserID != "oppositeGender" {
		t.Fatalf("candidate = %q, want oppositeGender", got.Candidate.UserID)
	}
	if got.Score != 40 {
		t.Fatalf("score = %d, want 40", got.Score)
	}
}

func TestBestMatchSameCollegeMode(t *testing.T) {
	store := seedStore(t,
		profile.Profile{UserID: "me", Gender: "female", College: "IIT", Completed: true},
		profile.Profile{UserID: "farAway", Gender: "male", College: "NIT", Completed: true},
		profile.Profile{UserID: "classmate", Gender: "female", College: "IIT", Completed: true},
	)

	svc := NewService(store)
	got, err := svc.BestMatch(context.Background(), "me", ModeSameCollege)
	if err != nil {
		t.Fatalf("BestMatch() error = %v", err)
	}
	// Same college (+50) beats opposite gender (+40) in this mode.
	if got.Candidate.UserID != "classmate" {
		t.Fatalf("candidate = %q, want classmate", got.Candidate.UserID)
	}
}

func TestBestMatchRequiresCompletedProfile(t *testing.T) {
	store := seedStore(t,
		profile.Profile{UserID: "me", Completed: false},
		profile.Profile{UserID: "other", Completed: true},
	)

	svc := NewService(store)
	if _, err := svc.BestMatch(context.Background(), "me", ModeAny); !errors.Is(err, ErrProfileIncomplete) {
		t.Fatalf("error = %v, want ErrProfileIncomplete", err)
	}
}

func TestBestMatchNoCandidates(t *testing.T) {
	store := seedStore(t,
		profile.Profile{UserID: "me", Completed: true},
		profile.Profile{UserID: "unfinished", Completed: false},
	)

	svc := NewService(store)
	if _, err := svc.BestMatch(context.Background(), "me", ModeAny); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("error = %v, want ErrNoCandidates", err)
	}
}

func TestBestMatchUnknownRequester(t *testing.T) {
	svc := NewService(seedStore(t))
	if _, err := svc.BestMatch(context.Background(), "ghost", ModeAny); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("error = %v, want profile.ErrNotFound", err)
	}
}
