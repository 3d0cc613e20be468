package pricing

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"trading-desk/internal/domain"
)

// MaxQuantity is the largest stack a basket accepts.
const MaxQuantity = 1_000_000

var maxValue = decimal.NewFromInt(math.MaxInt64)

// ParseQuantity parses user-typed quantity text. Empty text means 1.
func ParseQuantity(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, domain.NewUserError(domain.ErrInvalidQuantity, "Invalid Quantity", "Quantity must be a valid number!")
	}
	if n <= 0 {
		return 0, domain.NewUserError(domain.ErrInvalidQuantity, "Invalid Quantity", "Quantity must be a positive number!")
	}
	if n > MaxQuantity {
		return 0, tooLarge()
	}
	return n, nil
}

// Add returns items with item merged into its stack, or appended as a new
// stack. The input slice is not modified.
func Add(items []domain.LineItem, item domain.LineItem) ([]domain.LineItem, error) {
	if item.Quantity <= 0 {
		return nil, domain.NewUserError(domain.ErrInvalidQuantity, "Invalid Quantity", "Quantity must be a positive number!")
	}
	if item.Quantity > MaxQuantity || item.Value < 0 {
		return nil, tooLarge()
	}
	out := domain.CloneItems(items)
	merged := -1
	for i := range out {
		if out[i].Key() == item.Key() {
			out[i].Quantity += item.Quantity
			merged = i
			break
		}
	}
	if merged < 0 {
		out = append(out, item)
	} else if out[merged].Quantity > MaxQuantity {
		return nil, tooLarge()
	}

	// The basket total must stay representable once priced.
	total := decimal.Zero
	for _, it := range out {
		total = total.Add(decimal.NewFromInt(it.Value).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if total.GreaterThan(maxValue) {
		return nil, tooLarge()
	}
	return out, nil
}

func tooLarge() error {
	return domain.Errorf(domain.ErrInvalidQuantity, "Invalid Quantity",
		"Quantity cannot exceed %d items per stack!", MaxQuantity)
}

// Remove returns items with qty units taken from the stack identified by key.
// A stack reaching zero is dropped. Protected stacks are keyed by "Name (Type)".
// On error the input is left unchanged.
func Remove(items []domain.LineItem, key domain.StackKey, qty int, protected map[string]struct{}) ([]domain.LineItem, error) {
	if qty <= 0 {
		return nil, domain.NewUserError(domain.ErrInvalidQuantity, "Invalid Quantity", "Quantity must be a positive number!")
	}
	full := domain.LineItem{Name: key.Name, Type: key.Type}.FullName()
	if _, ok := protected[full]; ok {
		return nil, domain.Errorf(domain.ErrProtectedItem, "Protected Item",
			"The **%s** is a protected item and cannot be removed from your list!", key.Name)
	}

	idx := -1
	for i := range items {
		if items[i].Key() == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domain.NewUserError(domain.ErrNotInList, "Item Information",
			"This item cannot be removed because it has not been added to your list.")
	}
	if held := items[idx].Quantity; qty > held {
		return nil, domain.Errorf(domain.ErrInsufficientStock, "Insufficient Quantity",
			"Cannot remove %d items. Only %d available!", qty, held)
	}

	out := domain.CloneItems(items)
	out[idx].Quantity -= qty
	if out[idx].Quantity == 0 {
		out = append(out[:idx], out[idx+1:]...)
	}
	return out, nil
}

// Count returns the total quantity across all stacks.
func Count(items []domain.LineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
