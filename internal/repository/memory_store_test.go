package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

func TestMemoryStore_OneOpenCartPerBuyer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	first := model.NewCart(1)
	require.NoError(t, tx.InsertOrder(ctx, &first))
	second := model.NewCart(1)
	assert.ErrorIs(t, tx.InsertOrder(ctx, &second), model.ErrCartExists)
	other := model.NewCart(2)
	require.NoError(t, tx.InsertOrder(ctx, &other))
	require.NoError(t, tx.Commit())

	// submitted orders do not count against the buyer
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	first.AddItem("A1")
	require.NoError(t, first.Submit("proof"))
	require.NoError(t, tx.SaveOrder(ctx, first))
	next := model.NewCart(1)
	require.NoError(t, tx.InsertOrder(ctx, &next))
	require.NoError(t, tx.Commit())

	assert.Len(t, s.Orders(), 3)
}

func TestMemoryStore_CartForUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cart := s.PutOrder(model.NewCart(1))
	submitted := model.NewCart(1)
	submitted.AddItem("A1")
	require.NoError(t, submitted.Submit("proof"))
	submitted = s.PutOrder(submitted)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	got, err := tx.CartForUpdate(ctx, cart.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, got.ID)

	_, err = tx.CartForUpdate(ctx, cart.ID, 2)
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
	_, err = tx.CartForUpdate(ctx, submitted.ID, 1)
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}
