package journals

import (
	"errors"
	"fmt"

	"github.com/pampa-erp/pampa/internal/shared"
)

var (
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = fmt.Errorf("journals: entry %w", shared.ErrNotFound)
	// ErrSourceConflict indicates the business document was already posted.
	ErrSourceConflict = fmt.Errorf("journals: source already posted: %w", shared.ErrConflict)
	// ErrNotDraft indicates an edit or delete on an entry that left DRAFT.
	ErrNotDraft = fmt.Errorf("journals: entry is not a draft: %w", shared.ErrInvalidStatus)
	// ErrNotPosted indicates a reversal of an entry that is not POSTED.
	ErrNotPosted = fmt.Errorf("journals: entry is not posted: %w", shared.ErrInvalidStatus)
	// ErrNothingToPost is returned by generators when every amount is zero.
	ErrNothingToPost = errors.New("journals: nothing to post")
)
