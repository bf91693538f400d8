package form

import (
	"slices"
	"strings"
)

// Dependency is one alternative of a visibility condition: every key must
// match. Keys name sibling options; the special keys are
//
//	!reverse   negate the alternative
//	!contains  match by substring instead of equality
//	!default   never matches itself but keeps the option visible when no
//	           other alternative matches
type Dependency map[string]string

// Dependencies are alternatives; the option is visible when any matches.
type Dependencies []Dependency

// Match evaluates the condition against sibling values. An empty expected
// value matches an empty or hidden sibling.
func (d Dependencies) Match(vals map[string][]string) bool {
	if len(d) == 0 {
		return true
	}
	def := false
	for _, alt := range d {
		ok := true
		_, reverse := alt["!reverse"]
		_, substr := alt["!contains"]
		for key, want := range alt {
			switch key {
			case "!reverse", "!contains":
				continue
			case "!default":
				def = true
				ok = false
				continue
			}
			if !matches(vals[key], want, substr) {
				ok = false
			}
		}
		if ok != reverse {
			return true
		}
	}
	return def
}

// Keys returns the sibling options the condition reads.
func (d Dependencies) Keys() []string {
	var keys []string
	for _, alt := range d {
		for k := range alt {
			if !strings.HasPrefix(k, "!") && !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return keys
}

func matches(have []string, want string, substr bool) bool {
	if want == "" {
		return isEmpty(have)
	}
	for _, v := range have {
		if v == want || (substr && strings.Contains(v, want)) {
			return true
		}
	}
	return false
}

// visibility computes which options of a record are shown. Hidden options
// count as empty for the conditions of others, so the computation iterates
// until nothing changes. Cyclic conditions that never settle stop after
// one pass per option.
func visibility(opts []*Option, vals map[string][]string) map[string]bool {
	visible := make(map[string]bool, len(opts))
	for _, o := range opts {
		visible[o.Name] = true
	}
	eff := make(map[string][]string, len(vals))
	for range len(opts) + 1 {
		clear(eff)
		for k, v := range vals {
			eff[k] = v
		}
		for _, o := range opts {
			if !visible[o.Name] {
				eff[o.Name] = nil
			}
		}
		changed := false
		for _, o := range opts {
			if ok := o.Depends.Match(eff); ok != visible[o.Name] {
				visible[o.Name] = ok
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return visible
}
