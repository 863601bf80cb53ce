package env

import (
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/mod/semver"

	"github.com/quartz-lang/quartzvm/qtype"
)

// Environment is the host-provided registry of native functions and
// struct/enum schemas a Module is validated and executed against: a flat
// function list addressed by index, plus struct/enum schema sets the
// Module Validator and the VM consult after a Module's own declarations
// when resolving a struct/enum id.
type Environment struct {
	functions []NativeFunction
	structs   []qtype.StructSchema
	enums     []qtype.EnumSchema
	version   string
}

// New returns an empty Environment declaring the given semver version
// string (e.g. "v1.2.0"), the version a Module's FormatVersion is checked
// against by CompatibleWith.
func New(version string) *Environment {
	return &Environment{version: version}
}

// RegisterNative appends fn to the registry and returns its id, the index
// a Module's InvokeNative instructions address it by.
func (e *Environment) RegisterNative(fn NativeFunction) uint16 {
	e.functions = append(e.functions, fn)
	return uint16(len(e.functions) - 1)
}

// Function returns the native function at id, or an UnknownNativeFn error
// when id is out of range. An id has no text to rank against, so the
// error's "did you mean" hint names the shortest registered function;
// the VM wraps this error as the Cause of its located vm.Fault.
func (e *Environment) Function(id uint16) (NativeFunction, error) {
	if int(id) >= len(e.functions) {
		return NativeFunction{}, &Error{
			Kind:    KindUnknownNativeFn,
			Message: fmt.Sprintf("native function id %d not registered%s", id, e.suggestionSuffix("")),
		}
	}
	return e.functions[id], nil
}

// FunctionByName resolves a native function by its registered name,
// returning an UnknownNativeFn error with a fuzzy-matched suggestion
// (closest registered name by Levenshtein-style rank) when name isn't
// found — used by envconfig's manifest loader and by disassembly
// tooling, which both address functions by name rather than index.
func (e *Environment) FunctionByName(name string) (uint16, NativeFunction, error) {
	for i, fn := range e.functions {
		if fn.name == name {
			return uint16(i), fn, nil
		}
	}
	return 0, NativeFunction{}, &Error{
		Kind:    KindUnknownNativeFn,
		Message: fmt.Sprintf("no native function named %q%s", name, e.suggestionSuffix(name)),
	}
}

// suggestionSuffix renders " (did you mean X?)" for the registered
// function name closest to target: names containing target's letters in
// order (fuzzy.RankFindFold) are ranked by Levenshtein distance, and when
// no name does (a transposed typo), the name at the smallest Levenshtein
// distance overall is used.
func (e *Environment) suggestionSuffix(target string) string {
	if len(e.functions) == 0 {
		return ""
	}
	names := make([]string, len(e.functions))
	for i, fn := range e.functions {
		names[i] = fn.name
	}
	ranks := fuzzy.RankFindFold(target, names)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return fmt.Sprintf(" (did you mean %q?)", ranks[0].Target)
	}
	best, bestDist := names[0], fuzzy.LevenshteinDistance(target, names[0])
	for _, name := range names[1:] {
		if d := fuzzy.LevenshteinDistance(target, name); d < bestDist {
			best, bestDist = name, d
		}
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// SetCost retunes the gas cost of an already-registered native
// function: a host can adjust its standard library's pricing without
// re-registering functions or recompiling Modules that call into it.
func (e *Environment) SetCost(id uint16, cost uint64) bool {
	if int(id) >= len(e.functions) {
		return false
	}
	e.functions[id].SetCost(cost)
	return true
}

// AddStruct registers a struct schema the environment provides (distinct
// from a Module's own struct declarations). Returns DuplicateStruct if
// id is already registered.
func (e *Environment) AddStruct(s qtype.StructSchema) error {
	for _, existing := range e.structs {
		if existing.ID == s.ID {
			return &Error{Kind: KindDuplicateStruct, Message: fmt.Sprintf("struct id %d", s.ID)}
		}
	}
	e.structs = append(e.structs, s)
	return nil
}

// AddEnum registers an enum schema the environment provides.
func (e *Environment) AddEnum(en qtype.EnumSchema) error {
	for _, existing := range e.enums {
		if existing.ID == en.ID {
			return &Error{Kind: KindDuplicateEnum, Message: fmt.Sprintf("enum id %d", en.ID)}
		}
	}
	e.enums = append(e.enums, en)
	return nil
}

// Structs returns the environment-provided struct schemas, consulted by
// the Module Validator alongside a Module's own schemas.
func (e *Environment) Structs() []qtype.StructSchema { return e.structs }

// Enums returns the environment-provided enum schemas.
func (e *Environment) Enums() []qtype.EnumSchema { return e.enums }

// HasStruct reports whether id is known to this environment.
func (e *Environment) HasStruct(id uint16) bool {
	for _, s := range e.structs {
		if s.ID == id {
			return true
		}
	}
	return false
}

// HasEnum reports whether id is known to this environment.
func (e *Environment) HasEnum(id uint16) bool {
	for _, en := range e.enums {
		if en.ID == id {
			return true
		}
	}
	return false
}

// CompatibleWith reports whether a Module declaring moduleVersion (a
// semver string, typically module.VersionString(m.FormatVersion)) can run
// against this Environment: same major version, Environment version no
// older than the Module's.
func (e *Environment) CompatibleWith(moduleVersion string) bool {
	if !semver.IsValid(moduleVersion) || !semver.IsValid(e.version) {
		return false
	}
	if semver.Major(moduleVersion) != semver.Major(e.version) {
		return false
	}
	return semver.Compare(e.version, moduleVersion) >= 0
}
