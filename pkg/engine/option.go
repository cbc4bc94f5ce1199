package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/seekerror/stdlib/pkg/lang"
)

// OptionType enumerates engine option kinds. UCI declares check, spin,
// combo, button and string; XBoard adds reset, save, file and path.
type OptionType string

const (
	OptionCheck  OptionType = "check"
	OptionSpin   OptionType = "spin"
	OptionCombo  OptionType = "combo"
	OptionButton OptionType = "button"
	OptionReset  OptionType = "reset"
	OptionSave   OptionType = "save"
	OptionString OptionType = "string"
	OptionFile   OptionType = "file"
	OptionPath   OptionType = "path"
)

// managedUCIOptions are driven by the session itself and cannot be configured
// directly. Matched case-insensitively.
var managedUCIOptions = []string{"uci_chess960", "uci_variant", "uci_analysemode", "multipv", "ponder"}

// Option describes a single engine-declared option.
type Option struct {
	Name string
	Type OptionType
	// Default is the engine-declared default: bool for check, int for
	// spin, string otherwise. Nil if the engine declared none.
	Default any
	// Min and Max bound spin options.
	Min, Max lang.Optional[int]
	// Var lists the permissible values of a combo option.
	Var []string
}

// Parse coerces a raw value to the option's type. It accepts both wire-form
// strings and already-typed values, and is idempotent on its own output.
func (o Option) Parse(value any) (any, error) {
	switch o.Type {
	case OptionCheck:
		switch v := value.(type) {
		case bool:
			return v, nil
		case nil:
			return false, nil
		default:
			s := toString(v)
			return s != "" && s != "false", nil
		}

	case OptionSpin:
		var n int
		switch v := value.(type) {
		case int:
			n = v
		case int64:
			n = int(v)
		default:
			i, err := strconv.Atoi(toString(v))
			if err != nil {
				return nil, errorf("expected integer for spin option %q, got: %v", o.Name, value)
			}
			n = i
		}
		if min, ok := o.Min.V(); ok && n < min {
			return nil, errorf("expected value for option %q to be at least %v, got: %v", o.Name, min, n)
		}
		if max, ok := o.Max.V(); ok && n > max {
			return nil, errorf("expected value for option %q to be at most %v, got: %v", o.Name, max, n)
		}
		return n, nil

	case OptionCombo:
		s := toString(value)
		for _, v := range o.Var {
			if v == s {
				return s, nil
			}
		}
		return nil, errorf("invalid value for combo option %q, got: %v (available: %v)", o.Name, s, strings.Join(o.Var, ", "))

	case OptionButton, OptionReset, OptionSave:
		return nil, nil

	case OptionString, OptionFile, OptionPath:
		s := toString(value)
		if strings.ContainsAny(s, "\r\n") {
			return nil, errorf("invalid line-break in string option %q", o.Name)
		}
		return s, nil

	default:
		return nil, errorf("unknown option type: %v", o.Type)
	}
}

// IsManagedUCI reports whether the option is managed by the UCI driver
// itself and so off-limits to Configure.
func (o Option) IsManagedUCI() bool {
	name := strings.ToLower(o.Name)
	for _, m := range managedUCIOptions {
		if name == m {
			return true
		}
	}
	return false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

// entry pairs a value with the key casing it was last set under.
type entry[V any] struct {
	name  string
	value V
}

// caseMap is a small insertion-ordered map with optionally case-folded keys.
// Iteration yields the casing of the last set.
type caseMap[V any] struct {
	fold    bool
	entries map[string]entry[V]
	order   []string
}

func newCaseMap[V any](fold bool) *caseMap[V] {
	return &caseMap[V]{fold: fold, entries: map[string]entry[V]{}}
}

func (m *caseMap[V]) canon(key string) string {
	if m.fold {
		return strings.ToLower(key)
	}
	return key
}

func (m *caseMap[V]) Get(key string) (V, bool) {
	e, ok := m.entries[m.canon(key)]
	return e.value, ok
}

func (m *caseMap[V]) Contains(key string) bool {
	_, ok := m.entries[m.canon(key)]
	return ok
}

func (m *caseMap[V]) Set(key string, value V) {
	canon := m.canon(key)
	if _, ok := m.entries[canon]; !ok {
		m.order = append(m.order, canon)
	}
	m.entries[canon] = entry[V]{name: key, value: value}
}

func (m *caseMap[V]) Len() int {
	return len(m.entries)
}

// Names returns the keys in insertion order, in their last-set casing.
func (m *caseMap[V]) Names() []string {
	ret := make([]string, 0, len(m.order))
	for _, canon := range m.order {
		ret = append(ret, m.entries[canon].name)
	}
	return ret
}

func (m *caseMap[V]) Copy() *caseMap[V] {
	ret := newCaseMap[V](m.fold)
	for _, canon := range m.order {
		e := m.entries[canon]
		ret.Set(e.name, e.value)
	}
	return ret
}

// OptionMap holds engine-declared options. The UCI variant matches names
// case-insensitively while iteration preserves the last-set casing; the
// XBoard variant is case-sensitive.
type OptionMap struct {
	m *caseMap[Option]
}

// NewOptionMap returns an empty option map. UCI uses foldCase.
func NewOptionMap(foldCase bool) *OptionMap {
	return &OptionMap{m: newCaseMap[Option](foldCase)}
}

func (o *OptionMap) Get(name string) (Option, bool) {
	return o.m.Get(name)
}

func (o *OptionMap) Contains(name string) bool {
	return o.m.Contains(name)
}

func (o *OptionMap) Set(opt Option) {
	o.m.Set(opt.Name, opt)
}

func (o *OptionMap) Len() int {
	return o.m.Len()
}

// Names returns the option names in declaration order.
func (o *OptionMap) Names() []string {
	return o.m.Names()
}

func (o *OptionMap) Copy() *OptionMap {
	return &OptionMap{m: o.m.Copy()}
}
