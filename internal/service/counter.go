package service

import (
	"errors"
	"fmt"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/repository"
)

// The copy-id counter is a single document in the counters collection.
const copyIDCounter = "copyID"

// firstCopyID is the counter value when the document does not exist yet.
const firstCopyID = 1

type counterDoc struct {
	Value int64 `json:"value" bson:"value"`
}

// allocateCopyIDs reserves n consecutive copy ids starting at the current
// counter value and advances the counter by n.
//
// The read and the write share the caller's transaction, so two concurrent
// allocations can never observe the same counter value: sqlite serialises
// them, badger and mongo abort and re-run the loser.
func (u *unitOfWork) allocateCopyIDs(n int) ([]int64, error) {
	if n < 1 {
		return nil, apperror.ValidationFailed("n", "must allocate at least one copy id")
	}

	var c counterDoc
	if _, err := u.tx.Get(repository.Counters, copyIDCounter, &c); err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("reading copy id counter: %w", err)
		}
		c.Value = firstCopyID
	}

	ids := make([]int64, n)
	for i := range ids {
		ids[i] = c.Value + int64(i)
	}

	c.Value += int64(n)
	if _, err := u.tx.Put(repository.Counters, copyIDCounter, &c); err != nil {
		return nil, fmt.Errorf("advancing copy id counter: %w", err)
	}
	return ids, nil
}
