package invoice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeIdemGuard struct {
	insertErr    error
	deletedKey   string
	deleteCtxErr error
}

func (f *fakeIdemGuard) CheckAndInsert(ctx context.Context, key, module string) error {
	return f.insertErr
}

func (f *fakeIdemGuard) Delete(ctx context.Context, key string) error {
	f.deletedKey = key
	f.deleteCtxErr = ctx.Err()
	return nil
}

func TestIdempotencyRollbackSurvivesRequestCancellation(t *testing.T) {
	guard := &fakeIdemGuard{}
	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
	r.Header.Set("Idempotency-Key", "idem-1")
	w := httptest.NewRecorder()

	rollback, ok := checkIdempotency(w, r, guard, "invoice")
	require.True(t, ok)

	// A dead request context is exactly when a failed command needs its
	// key released; the delete must not inherit the cancellation.
	cancel()
	rollback()

	require.Equal(t, "idem-1", guard.deletedKey)
	require.NoError(t, guard.deleteCtxErr)
}

func TestIdempotencyConflictShortCircuits(t *testing.T) {
	guard := &fakeIdemGuard{insertErr: shared.ErrIdempotencyConflict}
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Idempotency-Key", "idem-1")
	w := httptest.NewRecorder()

	_, ok := checkIdempotency(w, r, guard, "invoice")
	require.False(t, ok)
	require.Equal(t, http.StatusConflict, w.Code)
}
