package domain

// LineItem is one stack of items in a selling basket.
// Two line items form the same stack iff (Name, Type, Condition) are equal.
type LineItem struct {
	Name      string    `json:"name"`      // clean name, no type suffix, no year
	Quantity  int       `json:"quantity"`  // > 0
	Condition Condition `json:"condition"` // Clean | Duped
	Value     int64     `json:"value"`     // unit value in the selected condition
	Type      string    `json:"type"`
}

// StackKey identifies a stack of line items.
type StackKey struct {
	Name      string
	Type      string
	Condition Condition
}

// Key returns the stack identity of the line item.
func (li LineItem) Key() StackKey {
	return StackKey{Name: li.Name, Type: li.Type, Condition: li.Condition}
}

// FullName returns "Name (Type)", the form used for protected-item lookups.
func (li LineItem) FullName() string {
	return li.Name + " (" + li.Type + ")"
}

// CloneItems returns a deep copy of items.
func CloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
