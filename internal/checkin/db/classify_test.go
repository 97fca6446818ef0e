package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, classify(fmt.Errorf("scan: %w", sql.ErrNoRows)), ErrNotFound)
	assert.ErrorIs(t, classify(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"}), ErrLockTimeout)

	deadline := classify(fmt.Errorf("scan: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, deadline, context.DeadlineExceeded)
	assert.False(t, errors.Is(deadline, ErrLockTimeout), "caller deadline is not contention")

	other := &pq.Error{Code: "23505"}
	assert.Same(t, other, classify(other))
	assert.NoError(t, classify(nil))
	assert.False(t, errors.Is(classify(errors.New("boom")), ErrLockTimeout))
}
