package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

func sellingTicket(channel string) *domain.Ticket {
	return &domain.Ticket{
		ChannelID: channel,
		OwnerID:   "owner-" + channel,
		OpenedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Stage: &domain.SellingStage{Items: []domain.LineItem{
			{Name: "Torpedo", Type: "Vehicle", Condition: domain.ConditionClean, Quantity: 2, Value: 48_000_000},
		}},
	}
}

func TestTicketStore_SaveAndGet(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()

	if err := store.Save(ctx, sellingTicket("c1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Step() != domain.StepSelling {
		t.Errorf("Step mismatch: got %s, want %s", got.Step(), domain.StepSelling)
	}
	if items := got.Items(); len(items) != 1 || items[0].Quantity != 2 {
		t.Errorf("Items mismatch: got %+v", items)
	}
}

func TestTicketStore_SaveOverwrites(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()

	tk := sellingTicket("c1")
	if err := store.Save(ctx, tk); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tk.Stage = &domain.PaymentMethodStage{Items: tk.Items()}
	if err := store.Save(ctx, tk); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Step() != domain.StepPaymentMethod {
		t.Errorf("Step mismatch: got %s, want %s", got.Step(), domain.StepPaymentMethod)
	}
}

func TestTicketStore_Isolation(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()

	tk := sellingTicket("c1")
	if err := store.Save(ctx, tk); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	tk.Stage.(*domain.SellingStage).Items[0].Quantity = 99

	got, _ := store.Get(ctx, "c1")
	got.Stage.(*domain.SellingStage).Items[0].Quantity = 50

	again, _ := store.Get(ctx, "c1")
	if q := again.Items()[0].Quantity; q != 2 {
		t.Errorf("stored ticket was mutated through a caller pointer: quantity %d", q)
	}
}

func TestTicketStore_NotFoundAndDelete(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := store.Save(ctx, sellingTicket("c1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "c1"); err != nil {
		t.Errorf("Deleting a missing ticket should not fail: %v", err)
	}
	if _, err := store.Get(ctx, "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestTicketStore_InvalidInput(t *testing.T) {
	store := NewTicketStore()
	if err := store.Save(context.Background(), &domain.Ticket{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestTicketStore_ListOrdered(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()

	for _, ch := range []string{"c3", "c1", "c2"} {
		if err := store.Save(ctx, sellingTicket(ch)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 tickets, got %d", len(list))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if list[i].ChannelID != want {
			t.Errorf("List[%d] = %s, want %s", i, list[i].ChannelID, want)
		}
	}
}
