package presence

import (
	"fmt"
	"strings"
)

// ExclusionCategory is a class of caller that never counts as a viewer.
type ExclusionCategory int

const (
	// ExcludeAdministrator covers operators moderating a broadcast.
	ExcludeAdministrator ExclusionCategory = iota + 1
	// ExcludeSeller covers the host of a broadcast.
	ExcludeSeller
)

var categoryNames = map[ExclusionCategory]string{
	ExcludeAdministrator: "administrator",
	ExcludeSeller:        "seller",
}

// rolePrefixes maps each category to the role-name prefix that identifies it.
var rolePrefixes = map[ExclusionCategory]string{
	ExcludeAdministrator: "ROLE_ADMIN",
	ExcludeSeller:        "ROLE_SELLER",
}

func (c ExclusionCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ExclusionCategory(%d)", int(c))
}

// ParseExclusionCategory resolves a configured category name.
func ParseExclusionCategory(name string) (ExclusionCategory, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown viewer exclusion category %q", name)
}

// RolePolicy decides whether a resolved role string is counted as a viewer.
// The zero value counts everyone.
type RolePolicy struct {
	excluded []ExclusionCategory
}

// NewRolePolicy excludes the given categories.
func NewRolePolicy(categories ...ExclusionCategory) RolePolicy {
	seen := make(map[ExclusionCategory]bool, len(categories))
	var out []ExclusionCategory
	for _, c := range categories {
		if _, known := rolePrefixes[c]; !known || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return RolePolicy{excluded: out}
}

// DefaultRolePolicy excludes administrators and sellers.
func DefaultRolePolicy() RolePolicy {
	return NewRolePolicy(ExcludeAdministrator, ExcludeSeller)
}

// PolicyFromNames builds a policy from category names such as "administrator".
func PolicyFromNames(names []string) (RolePolicy, error) {
	categories := make([]ExclusionCategory, 0, len(names))
	for _, n := range names {
		c, err := ParseExclusionCategory(n)
		if err != nil {
			return RolePolicy{}, err
		}
		categories = append(categories, c)
	}
	return NewRolePolicy(categories...), nil
}

// Classify reports which excluded category role falls into, if any.
// A blank role is never excluded.
func (p RolePolicy) Classify(role string) (ExclusionCategory, bool) {
	if strings.TrimSpace(role) == "" {
		return 0, false
	}
	for _, c := range p.excluded {
		if strings.HasPrefix(role, rolePrefixes[c]) {
			return c, true
		}
	}
	return 0, false
}

// Counts reports whether a caller with role is counted as a viewer.
func (p RolePolicy) Counts(role string) bool {
	_, excluded := p.Classify(role)
	return !excluded
}

// Excluded lists the categories this policy excludes.
func (p RolePolicy) Excluded() []ExclusionCategory {
	return append([]ExclusionCategory(nil), p.excluded...)
}
