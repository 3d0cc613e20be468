package domain

import (
	"regexp"
	"strings"
)

// CatalogEntry is one row of the item value table.
// Name is the display name and may carry a trailing "(Type)" qualifier.
type CatalogEntry struct {
	Name       string // e.g. "Torpedo (Vehicle)"
	CashValue  string // raw clean value, e.g. "48 000 000" or "N/A"
	DupedValue string // raw duped value
	Type       string // explicit type column, may be empty
}

// ItemType returns the explicit type column, or the first parenthetical
// qualifier of the name when the column is empty.
func (e CatalogEntry) ItemType() string {
	if t := strings.TrimSpace(e.Type); t != "" {
		return t
	}
	return QualifierType(e.Name)
}

// RawValue returns the raw value string for the given condition.
func (e CatalogEntry) RawValue(c Condition) string {
	if c == ConditionDuped {
		return e.DupedValue
	}
	return e.CashValue
}

// Condition is the state of a traded item.
type Condition string

const (
	ConditionClean Condition = "Clean"
	ConditionDuped Condition = "Duped"
)

// String returns the string representation of Condition.
func (c Condition) String() string {
	return string(c)
}

// IsValid checks if the condition is a known value.
func (c Condition) IsValid() bool {
	return c == ConditionClean || c == ConditionDuped
}

// ParseCondition parses user-typed condition text ("clean", "dupe", "duped").
func ParseCondition(s string) (Condition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clean":
		return ConditionClean, nil
	case "dupe", "duped":
		return ConditionDuped, nil
	}
	return "", NewUserError(ErrInvalidCondition, "Invalid Status", "Status must be either 'Dupe' or 'Clean'!")
}

// TypeUnknown is used when neither the catalog name nor the input names a type.
const TypeUnknown = "Unknown"

// TypeHyperChrome is the type assigned to leveled color variants.
const TypeHyperChrome = "HyperChrome"

var (
	trailingQualifier = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	anyQualifier      = regexp.MustCompile(`\s*\([^)]*\)`)
	firstQualifier    = regexp.MustCompile(`\(([^)]*)\)`)
	trailingYear      = regexp.MustCompile(`\s+\d{4}$`)
)

// BaseName strips a trailing parenthetical qualifier: "Widget (Rim)" -> "Widget".
func BaseName(name string) string {
	return strings.TrimSpace(trailingQualifier.ReplaceAllString(name, ""))
}

// StripQualifiers removes every parenthetical group from name.
func StripQualifiers(name string) string {
	return strings.TrimSpace(anyQualifier.ReplaceAllString(name, ""))
}

// QualifierType returns the first parenthetical group of name, or TypeUnknown.
func QualifierType(name string) string {
	m := firstQualifier.FindStringSubmatch(name)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return TypeUnknown
	}
	return strings.TrimSpace(m[1])
}

// StripYear removes a trailing four-digit year: "HyperShift 2023" -> "HyperShift".
func StripYear(name string) string {
	return strings.TrimSpace(trailingYear.ReplaceAllString(name, ""))
}
