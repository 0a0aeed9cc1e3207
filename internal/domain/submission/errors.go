package submission

import (
	"errors"
	"fmt"

	"github.com/okian/ratingmeter/internal/domain/model"
)

// persistenceError wraps err in ErrPersistence unless it already carries a
// domain kind the caller needs to see.
func persistenceError(op string, err error) error {
	for _, kind := range []error{model.ErrNotFound, model.ErrDuplicateRating, model.ErrPersistence} {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", model.ErrPersistence, op, err)
}
