package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast() Policy {
	return Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

var serialization = &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	calls := 0
	var retried []int
	p := fast()
	p.OnRetry = func(try int, _ error) { retried = append(retried, try) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return eris.Wrap(serialization, "db: replace partition")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(), func(context.Context) error {
		calls++
		return serialization
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, serialization)
}

func TestDo_PermanentErrorStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := fast()
	p.Backoff = time.Hour
	p.MaxBackoff = time.Hour
	p.OnRetry = func(int, error) { cancel() }

	err := Do(ctx, p, func(context.Context) error {
		calls++
		return serialization
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fast(), func(context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("read: connection reset by peer")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", serialization, true},
		{"deadlock wrapped", fmt.Errorf("copy: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"connection class", &pgconn.PgError{Code: "08006"}, true},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"cancelled", eris.Wrap(context.Canceled, "publish"), false},
		{"deadline", context.DeadlineExceeded, false},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"plain", errors.New("geometry type mismatch"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestPolicyWait(t *testing.T) {
	p := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}.normalized()
	assert.Equal(t, 100*time.Millisecond, p.wait(1))
	assert.Equal(t, 200*time.Millisecond, p.wait(2))
	assert.Equal(t, 300*time.Millisecond, p.wait(6))

	p.Jitter = 0.5
	for range 20 {
		w := p.wait(1)
		assert.GreaterOrEqual(t, w, 50*time.Millisecond)
		assert.LessOrEqual(t, w, 150*time.Millisecond)
	}
}

func TestPolicy_CustomRetryable(t *testing.T) {
	calls := 0
	p := fast()
	p.Retryable = func(err error) bool { return err.Error() == "again" }
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("again")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
