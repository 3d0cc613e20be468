package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Desk holds the operator-maintained lists of the trading desk.
type Desk struct {
	Obtainable   []string `json:"obtainable"`    // clean base names refused at add time
	Exceptions   []string `json:"exceptions"`    // "Name (Type)" entries that cannot be removed
	SupportRoles []string `json:"support_roles"` // chat roles pinged on new tickets
}

// LoadDesk reads a desk JSON file. A missing file yields an empty desk.
func LoadDesk(path string) (*Desk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Desk{}, nil
		}
		return nil, fmt.Errorf("read desk: %w", err)
	}
	var d Desk
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode desk: %w", err)
	}
	return &d, nil
}

// ObtainableSet returns the obtainable denylist as a set.
func (d *Desk) ObtainableSet() map[string]struct{} {
	return toSet(d.Obtainable)
}

// ExceptionSet returns the protected items as a set.
func (d *Desk) ExceptionSet() map[string]struct{} {
	return toSet(d.Exceptions)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}
