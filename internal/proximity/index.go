// Package proximity answers "who is within r km of this point" over the
// current location samples in the store.
package proximity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/RefatHex/ResQ/internal/geo"
	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/pkg/e"
)

type LocationStore interface {
	ListSubjectsWithCurrentLocation(ctx context.Context) ([]models.Subject, error)
}

// Hit is one item found within the radius together with its distance.
type Hit[T any] struct {
	ID         string
	Item       T
	DistanceKm float64
}

// Match is a subject found by FindWithin.
type Match = Hit[models.Subject]

type Index struct {
	store LocationStore
}

func NewIndex(store LocationStore) *Index {
	return &Index{store: store}
}

// FindWithin returns every subject whose current location lies within
// radiusKm of center, nearest first. The subject named by excluding, if
// any, is left out.
func (i *Index) FindWithin(ctx context.Context, center models.Coordinate, radiusKm float64, excluding string) ([]Match, error) {
	const op = "proximity.FindWithin"

	if err := ValidateQuery(center, radiusKm); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	subjects, err := i.store.ListSubjectsWithCurrentLocation(ctx)
	if err != nil {
		return nil, e.WrapError(op, err)
	}

	candidates := subjects[:0:0]
	for _, s := range subjects {
		if excluding != "" && s.ID == excluding {
			continue
		}
		// Malformed rows are skipped, not fatal for the whole scan.
		if s.Location.Validate() != nil {
			continue
		}
		candidates = append(candidates, s)
	}

	return Within(center, radiusKm, candidates, func(s models.Subject) (string, models.Coordinate) {
		return s.ID, s.Location
	}), nil
}

// ValidateQuery rejects malformed centers and non-positive radii.
func ValidateQuery(center models.Coordinate, radiusKm float64) error {
	if err := center.Validate(); err != nil {
		return err
	}
	if !(radiusKm > 0) || math.IsInf(radiusKm, 0) {
		return fmt.Errorf("%w: %v", e.ErrInvalidRadius, radiusKm)
	}
	return nil
}

// Within filters items to those at most radiusKm from center, sorted by
// ascending distance with ties broken by id. The caller validates input.
func Within[T any](center models.Coordinate, radiusKm float64, items []T, locate func(T) (string, models.Coordinate)) []Hit[T] {
	hits := make([]Hit[T], 0)
	for _, item := range items {
		id, at := locate(item)
		d := geo.DistanceKm(center, at)
		if d <= radiusKm {
			hits = append(hits, Hit[T]{ID: id, Item: item, DistanceKm: d})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].DistanceKm != hits[b].DistanceKm {
			return hits[a].DistanceKm < hits[b].DistanceKm
		}
		return hits[a].ID < hits[b].ID
	})
	return hits
}
