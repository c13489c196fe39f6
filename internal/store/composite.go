package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// Composite merges several stores. When ids collide, the earlier store
// wins.
type Composite struct {
	stores []Store
}

func NewComposite(stores ...Store) *Composite {
	return &Composite{stores: stores}
}

// ListAll lists every child. If no child could list, the result is
// ErrUnavailable; if only some could, or a child listed partially, the
// merged list is returned with ErrPartial.
func (c *Composite) ListAll(ctx context.Context) ([]model.Schedule, error) {
	var (
		out       []model.Schedule
		seen      = make(map[int64]bool)
		failures  []error
		succeeded int
	)

	for i, st := range c.stores {
		list, err := st.ListAll(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrPartial):
			failures = append(failures, fmt.Errorf("store %d: %w", i, err))
		default:
			failures = append(failures, fmt.Errorf("store %d: %w", i, err))
			continue
		}
		succeeded++

		for _, s := range list {
			if seen[s.ID] {
				appLog.Warn("duplicate schedule id across stores", "id", s.ID, "source", s.SourceID)
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}

	if len(c.stores) > 0 && succeeded == 0 {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(failures...))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(failures) > 0 {
		return out, fmt.Errorf("%w: %w", ErrPartial, errors.Join(failures...))
	}
	return out, nil
}

// GetByID returns the first child's match. A child error only surfaces when
// no child found the id.
func (c *Composite) GetByID(ctx context.Context, id int64) (model.Schedule, bool, error) {
	var failures []error
	for _, st := range c.stores {
		s, ok, err := st.GetByID(ctx, id)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if ok {
			return s, true, nil
		}
	}
	if len(failures) > 0 {
		return model.Schedule{}, false, errors.Join(failures...)
	}
	return model.Schedule{}, false, nil
}
