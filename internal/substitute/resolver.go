// Package substitute proposes and applies exercise replacements mid-workout.
package substitute

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/kinevo/sessiond/internal/models"
)

const (
	autoCandidates = 2
	searchLimit    = 20
	minQueryLen    = 2
)

// Store is the slice of the remote store the resolver reads from.
type Store interface {
	GetExercise(ctx context.Context, id uuid.UUID) (*models.Exercise, error)
	ExercisesByIDs(ctx context.Context, ids []uuid.UUID, source models.SubstituteSource) ([]models.SubstituteOption, error)
	SmartSubstitutes(ctx context.Context, exerciseID uuid.UUID, limit int) ([]models.SubstituteOption, error)
	SearchExercises(ctx context.Context, query string, sharedWith uuid.UUID, limit int) ([]models.SubstituteOption, error)
	LastExerciseLoad(ctx context.Context, studentID, exerciseID uuid.UUID) (string, error)
}

// SwapResult is the outcome of ApplySwap. A refusal is not an error: the
// caller re-invokes with force once the user confirms.
type SwapResult struct {
	RequiresConfirmation bool                `json:"requires_confirmation"`
	Slot                 models.ExerciseSlot `json:"slot"`
}

// Resolver computes substitute candidates and produces swapped slots.
type Resolver struct {
	store Store
}

// New creates a Resolver.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// Propose returns the merged candidate list for a slot: trainer-curated
// manual substitutes first, then up to two algorithmic candidates, excluding
// the current exercise and anything already listed manually.
func (r *Resolver) Propose(ctx context.Context, slot models.ExerciseSlot) ([]models.SubstituteOption, error) {
	manual, err := r.store.ExercisesByIDs(ctx, slot.SubstituteIDs, models.SubstituteManual)
	if err != nil {
		return nil, err
	}

	exclude := map[uuid.UUID]bool{slot.ExerciseID: true}
	for _, o := range manual {
		exclude[o.ID] = true
	}

	// Over-fetch so exclusions still leave enough candidates.
	smart, err := r.store.SmartSubstitutes(ctx, slot.ExerciseID, autoCandidates+len(exclude))
	if err != nil {
		return nil, err
	}

	result := manual
	added := 0
	for _, o := range smart {
		if added == autoCandidates {
			break
		}
		if exclude[o.ID] {
			continue
		}
		o.Source = models.SubstituteAuto
		result = append(result, o)
		added++
	}
	return result, nil
}

// Search runs a free-text candidate lookup constrained to exercises sharing
// a muscle group with the planned exercise. Queries under 2 characters
// return nothing.
func (r *Resolver) Search(ctx context.Context, slot models.ExerciseSlot, query string) ([]models.SubstituteOption, error) {
	query = strings.TrimSpace(query)
	if len(query) < minQueryLen {
		return nil, nil
	}
	return r.store.SearchExercises(ctx, query, slot.PlannedExerciseID, searchLimit)
}

// ApplySwap produces the slot after replacing its exercise. A slot with
// completed sets refuses unless force is set; a successful swap replaces
// identity/name/video, re-fetches the previous-load hint, tags provenance,
// and resets every set. Search picks are recorded as manual: a deliberate
// human choice.
func (r *Resolver) ApplySwap(ctx context.Context, studentID uuid.UUID, slot models.ExerciseSlot, chosen models.SubstituteOption, force bool) (*SwapResult, error) {
	if !force {
		for _, set := range slot.SetsData {
			if set.Completed {
				return &SwapResult{RequiresConfirmation: true, Slot: slot}, nil
			}
		}
	}

	exercise, err := r.store.GetExercise(ctx, chosen.ID)
	if err != nil {
		return nil, err
	}

	slot.ExerciseID = exercise.ID
	slot.Name = exercise.Name
	slot.VideoURL = exercise.VideoURL
	slot.SwapSource = provenance(chosen.Source)
	slot.SetsData = models.NewSets(slot.Sets)

	load, err := r.store.LastExerciseLoad(ctx, studentID, exercise.ID)
	if err != nil {
		load = "" // advisory only
	}
	slot.PreviousLoad = load

	return &SwapResult{Slot: slot}, nil
}

func provenance(source models.SubstituteSource) models.SwapSource {
	if source == models.SubstituteAuto {
		return models.SwapAuto
	}
	return models.SwapManual
}
