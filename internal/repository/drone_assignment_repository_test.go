package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDroneAssignmentRepository_Upsert(t *testing.T) {
	repo := NewDroneAssignmentRepository(setupTestDB(t).DB)
	ctx := context.Background()

	a, err := repo.Upsert(ctx, 1, "D1", "first")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusAssigned, a.Status)
	assert.Nil(t, a.ReleasedAt)

	released, err := repo.ReleaseByOrder(ctx, 1, "")
	require.NoError(t, err)
	assert.True(t, released)

	t.Run("re-assignment rewrites the row", func(t *testing.T) {
		b, err := repo.Upsert(ctx, 1, "D2", "second")
		require.NoError(t, err)
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, "D2", b.DroneID)
		assert.Equal(t, model.AssignmentStatusAssigned, b.Status)
		assert.Nil(t, b.ReleasedAt)
		assert.Equal(t, "second", b.Notes)

		n, err := repo.CountActiveByOrder(ctx, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestDroneAssignmentRepository_Release(t *testing.T) {
	repo := NewDroneAssignmentRepository(setupTestDB(t).DB)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, 1, "D1", "")
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, 2, "D2", "")
	require.NoError(t, err)

	t.Run("by drone", func(t *testing.T) {
		released, err := repo.ReleaseByDrone(ctx, "D1", "landed")
		require.NoError(t, err)
		assert.True(t, released)

		a, err := repo.GetByOrder(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.AssignmentStatusReleased, a.Status)
		assert.NotNil(t, a.ReleasedAt)
		assert.Equal(t, "landed", a.Notes)

		_, err = repo.GetActiveByOrder(ctx, 1)
		assert.ErrorIs(t, err, ErrAssignmentNotFound)
	})

	t.Run("second release is a no-op", func(t *testing.T) {
		released, err := repo.ReleaseByDrone(ctx, "D1", "")
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("active by drone", func(t *testing.T) {
		a, err := repo.GetActiveByDrone(ctx, "D2")
		require.NoError(t, err)
		assert.EqualValues(t, 2, a.OrderID)

		_, err = repo.GetActiveByDrone(ctx, "D1")
		assert.ErrorIs(t, err, ErrAssignmentNotFound)
	})
}
