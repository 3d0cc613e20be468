package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

func newStore(t *testing.T) (*TicketStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tickets")
	s, err := NewTicketStore(dir)
	require.NoError(t, err)
	return s, dir
}

func sellingTicket(channelID string) *domain.Ticket {
	return &domain.Ticket{
		ChannelID: channelID,
		OwnerID:   "owner-1",
		OpenedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Stage: &domain.SellingStage{Items: []domain.LineItem{
			{Name: "Torpedo", Type: "Vehicle", Condition: domain.ConditionClean, Quantity: 1, Value: 48_000_000},
		}},
	}
}

func TestTicketStore_SaveAndGet(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sellingTicket("1300")))
	assert.FileExists(t, filepath.Join(dir, "1300.json"))

	got, err := s.Get(ctx, "1300")
	require.NoError(t, err)
	assert.Equal(t, domain.StepSelling, got.Step())
	require.Len(t, got.Items(), 1)
	assert.Equal(t, "Torpedo", got.Items()[0].Name)
}

func TestTicketStore_SurvivesReopen(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	endsAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	tk := sellingTicket("1300")
	tk.Stage = &domain.WaitingPeriodStage{
		Account: domain.PlatformUser{ID: 100, Name: "builder"},
		GroupID: 34785441,
		Poll:    domain.PollState{RunID: "r1", Kind: domain.PollWaitingPeriod, Target: 34785441, EndsAt: &endsAt},
	}
	require.NoError(t, s.Save(ctx, tk))

	reopened, err := NewTicketStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "1300")
	require.NoError(t, err)
	stage, ok := got.Stage.(*domain.WaitingPeriodStage)
	require.True(t, ok)
	assert.True(t, endsAt.Equal(stage.EndsAt()))
}

func TestTicketStore_NotFoundAndDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Save(ctx, sellingTicket("1300")))
	require.NoError(t, s.Delete(ctx, "1300"))
	require.NoError(t, s.Delete(ctx, "1300"))

	_, err = s.Get(ctx, "1300")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTicketStore_ListSkipsForeignFiles(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sellingTicket("b")))
	require.NoError(t, s.Save(ctx, sellingTicket("a")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".a.json12345"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ChannelID)
	assert.Equal(t, "b", list[1].ChannelID)
}

func TestTicketStore_InvalidChannelID(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Save(ctx, sellingTicket("../escape")), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.Save(ctx, sellingTicket("")), storage.ErrInvalidInput)
	_, err := s.Get(ctx, "a/b")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
