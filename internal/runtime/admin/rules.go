package admin

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/drblury/busflow/internal/runtime/filter"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// DesiredRules derives one rule per mapping, named after the message type.
// Mappings producing an identical rule collapse into one. Distinct filters
// under the same name are ordered by property count, then label and
// properties; the first keeps the bare name and the rest get -2, -3, ...
// suffixes, so naming does not depend on registration order.
func DesiredRules(mappings []filter.MessageHandlerMapping) []Rule {
	var bases []string
	grouped := make(map[string][]RuleFilter, len(mappings))
	for _, m := range mappings {
		candidate := RuleFilterFor(m.Filter)
		base := m.MessageType
		if base == "" {
			base = m.Filter.MessageType()
		}
		filters, seen := grouped[base]
		if !seen {
			bases = append(bases, base)
		}
		if !slices.ContainsFunc(filters, candidate.Equal) {
			grouped[base] = append(filters, candidate)
		}
	}

	taken := make(map[string]bool, len(mappings))
	for _, base := range bases {
		taken[base] = true
	}
	rules := make([]Rule, 0, len(mappings))
	for _, base := range bases {
		filters := grouped[base]
		slices.SortStableFunc(filters, compareRuleFilters)
		rules = append(rules, Rule{Name: base, Filter: filters[0]})
		suffix := 1
		for _, f := range filters[1:] {
			name := base
			for taken[name] {
				suffix++
				name = base + "-" + strconv.Itoa(suffix)
			}
			taken[name] = true
			rules = append(rules, Rule{Name: name, Filter: f})
		}
	}
	return rules
}

func compareRuleFilters(a, b RuleFilter) int {
	if c := cmp.Compare(len(a.Properties), len(b.Properties)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Label, b.Label); c != 0 {
		return c
	}
	return cmp.Compare(propertiesKey(a.Properties), propertiesKey(b.Properties))
}

func propertiesKey(props propspkg.Properties) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(props)) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(props[k])
		b.WriteByte(0)
	}
	return b.String()
}

// RuleFilterFor builds the wire filter for a subscription filter. Custom
// properties are used verbatim together with an explicit label; otherwise the
// effective label is used with the version property added at build time.
func RuleFilterFor(f filter.BuiltFilter) RuleFilter {
	if f.HasCustomProperties() {
		return RuleFilter{Label: f.ExplicitLabel(), Properties: f.MessageProperties()}
	}
	label, _ := f.EffectiveMessageLabel()
	return RuleFilter{Label: label, Properties: f.MessageProperties()}
}

// DiffRules returns the existing rules to delete and the desired rules to
// create. Rules present on both sides are left untouched.
func DiffRules(existing, desired []Rule) (toDelete, toCreate []Rule) {
	for _, e := range existing {
		if !containsRule(desired, e) {
			toDelete = append(toDelete, e)
		}
	}
	for _, d := range desired {
		if !containsRule(existing, d) {
			toCreate = append(toCreate, d)
		}
	}
	return toDelete, toCreate
}

func containsRule(rules []Rule, r Rule) bool {
	for _, candidate := range rules {
		if candidate.Equal(r) {
			return true
		}
	}
	return false
}
