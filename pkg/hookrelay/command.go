package hookrelay

import (
	"fmt"
	"sort"
	"strings"
)

const maxCommandNameLength = 32

// ParameterKind identifies the value type accepted by one command parameter.
type ParameterKind string

const (
	// ParameterKindString identifies free-form string parameters.
	ParameterKindString ParameterKind = "string"
)

// Validate checks whether one parameter kind is supported.
func (k ParameterKind) Validate() error {
	switch k {
	case ParameterKindString:
		return nil
	default:
		return fmt.Errorf("validate parameter kind: unsupported kind %q", k)
	}
}

// ParameterSpec declares one named parameter accepted by a command.
type ParameterSpec struct {
	// Name is the normalized parameter key.
	Name string
	// Kind is the accepted value type. Empty defaults to ParameterKindString.
	Kind ParameterKind
	// Required reports whether the parameter must carry a non-empty value.
	Required bool
	// Description describes parameter behavior for help text.
	Description string
	// Choices restricts accepted values when non-empty.
	Choices []string
}

// Validate checks parameter specification coherence.
func (s ParameterSpec) Validate() error {
	name := normalizeName(s.Name)
	if name == "" {
		return fmt.Errorf("validate parameter spec: missing name")
	}
	if strings.ContainsAny(name, " \t\r\n=") {
		return fmt.Errorf("validate parameter spec: name %q contains whitespace or '='", s.Name)
	}
	kind := s.Kind
	if kind == "" {
		kind = ParameterKindString
	}
	if err := kind.Validate(); err != nil {
		return fmt.Errorf("validate parameter spec %s: %w", name, err)
	}

	return nil
}

// CommandDescriptor declares one registered command and its parameter schema.
//
// Descriptors are created at process start from static definitions and never
// mutated after registration.
type CommandDescriptor struct {
	// Name is the unique command name without platform prefix.
	Name string
	// Description describes command behavior for help text and platform registration.
	Description string
	// Parameters declares accepted parameters in declaration order.
	Parameters []ParameterSpec
	// CooldownSeconds is advisory per-caller cooldown metadata.
	CooldownSeconds int
}

// Validate checks command descriptor coherence.
func (d CommandDescriptor) Validate() error {
	name := normalizeName(d.Name)
	if name == "" {
		return fmt.Errorf("validate command descriptor: missing name")
	}
	if len(name) > maxCommandNameLength {
		return fmt.Errorf("validate command descriptor %s: name longer than %d", name, maxCommandNameLength)
	}
	for _, char := range name {
		if (char < 'a' || char > 'z') && (char < '0' || char > '9') && char != '_' {
			return fmt.Errorf("validate command descriptor %s: invalid character %q in name", name, char)
		}
	}
	if d.CooldownSeconds < 0 {
		return fmt.Errorf("validate command descriptor %s: cooldown must be >= 0", name)
	}

	seen := make(map[string]struct{}, len(d.Parameters))
	for index, parameter := range d.Parameters {
		if err := parameter.Validate(); err != nil {
			return fmt.Errorf("validate command descriptor %s parameter[%d]: %w", name, index, err)
		}
		parameterName := normalizeName(parameter.Name)
		if _, exists := seen[parameterName]; exists {
			return fmt.Errorf("validate command descriptor %s: duplicate parameter %q", name, parameter.Name)
		}
		seen[parameterName] = struct{}{}
	}

	return nil
}

// Usage renders a compact usage line such as `/test url=<value> [param1=<value>]`.
func (d CommandDescriptor) Usage() string {
	usage := "/" + normalizeName(d.Name)
	if len(d.Parameters) == 0 {
		return usage
	}

	parts := make([]string, 0, len(d.Parameters))
	for _, parameter := range d.Parameters {
		descriptor := normalizeName(parameter.Name) + "=<value>"
		if len(parameter.Choices) > 0 {
			descriptor = normalizeName(parameter.Name) + "=" + strings.Join(parameter.Choices, "|")
		}
		if !parameter.Required {
			descriptor = "[" + descriptor + "]"
		}
		parts = append(parts, descriptor)
	}

	return usage + " " + strings.Join(parts, " ")
}

// Argument is one bound parameter value.
type Argument struct {
	// Name is the declared parameter name.
	Name string
	// Value is the trimmed argument value.
	Value string
}

// Arguments stores parameter values bound against one descriptor in declaration order.
type Arguments struct {
	values []Argument
}

// Get returns one bound value and whether it was provided.
func (a Arguments) Get(name string) (string, bool) {
	key := normalizeName(name)
	for _, argument := range a.values {
		if argument.Name == key {
			return argument.Value, true
		}
	}

	return "", false
}

// Value returns one bound value or an empty string.
func (a Arguments) Value(name string) string {
	value, _ := a.Get(name)
	return value
}

// Pairs returns provided arguments in declaration order.
func (a Arguments) Pairs() []Argument {
	return append([]Argument(nil), a.values...)
}

// Len reports the number of provided arguments.
func (a Arguments) Len() int {
	return len(a.values)
}

// NewArguments builds Arguments from ordered pairs without schema validation.
func NewArguments(pairs ...Argument) Arguments {
	values := make([]Argument, 0, len(pairs))
	for _, pair := range pairs {
		values = append(values, Argument{Name: normalizeName(pair.Name), Value: pair.Value})
	}

	return Arguments{values: values}
}

// BindArguments validates raw invocation arguments against one descriptor.
//
// Unknown keys, missing required values, and values outside declared choices
// produce a *ValidationError. Empty optional values are treated as absent.
func BindArguments(descriptor CommandDescriptor, raw map[string]string) (Arguments, error) {
	normalized := make(map[string]string, len(raw))
	for key, value := range raw {
		normalized[normalizeName(key)] = strings.TrimSpace(value)
	}

	declared := make(map[string]struct{}, len(descriptor.Parameters))
	for _, parameter := range descriptor.Parameters {
		declared[normalizeName(parameter.Name)] = struct{}{}
	}
	unknown := make([]string, 0)
	for key := range normalized {
		if _, exists := declared[key]; !exists {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Arguments{}, &ValidationError{
			Command:   descriptor.Name,
			Parameter: unknown[0],
			Reason:    "unknown parameter",
		}
	}

	values := make([]Argument, 0, len(descriptor.Parameters))
	for _, parameter := range descriptor.Parameters {
		name := normalizeName(parameter.Name)
		value := normalized[name]
		if value == "" {
			if parameter.Required {
				return Arguments{}, &ValidationError{
					Command:   descriptor.Name,
					Parameter: name,
					Reason:    "missing required parameter",
				}
			}
			continue
		}
		if len(parameter.Choices) > 0 && !containsChoice(parameter.Choices, value) {
			return Arguments{}, &ValidationError{
				Command:   descriptor.Name,
				Parameter: name,
				Reason:    fmt.Sprintf("value %q is not one of %s", value, strings.Join(parameter.Choices, ", ")),
			}
		}
		values = append(values, Argument{Name: name, Value: value})
	}

	return Arguments{values: values}, nil
}

// CloneDescriptor returns a normalized deep copy of one descriptor.
func CloneDescriptor(descriptor CommandDescriptor) CommandDescriptor {
	cloned := descriptor
	cloned.Name = normalizeName(descriptor.Name)
	if len(descriptor.Parameters) == 0 {
		cloned.Parameters = nil
		return cloned
	}

	cloned.Parameters = make([]ParameterSpec, 0, len(descriptor.Parameters))
	for _, parameter := range descriptor.Parameters {
		copied := parameter
		copied.Name = normalizeName(parameter.Name)
		if copied.Kind == "" {
			copied.Kind = ParameterKindString
		}
		copied.Choices = append([]string(nil), parameter.Choices...)
		cloned.Parameters = append(cloned.Parameters, copied)
	}

	return cloned
}

// NormalizeCommandName lowercases and trims one command or parameter name.
func NormalizeCommandName(value string) string {
	return normalizeName(value)
}

func containsChoice(choices []string, value string) bool {
	for _, choice := range choices {
		if choice == value {
			return true
		}
	}

	return false
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
