package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidOptions is returned when variant options do not fit the product line schema.
var ErrInvalidOptions = errors.New("invalid variant options")

// Option is one chosen attribute of a variant, e.g. size=M.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Options is an ordered option list.
type Options []Option

// OptionDef declares an option a product line accepts.
type OptionDef struct {
	Name     string   `json:"name"`
	Values   []string `json:"values"`
	Required bool     `json:"required"`
}

// OptionSchema is the ordered option declaration of a product line.
type OptionSchema []OptionDef

// Get returns the value of the named option.
func (o Options) Get(name string) (string, bool) {
	for _, opt := range o {
		if strings.EqualFold(opt.Name, name) {
			return opt.Value, true
		}
	}
	return "", false
}

// String renders options as "size: M, color: Red".
func (o Options) String() string {
	parts := make([]string, 0, len(o))
	for _, opt := range o {
		parts = append(parts, opt.Name+": "+opt.Value)
	}
	return strings.Join(parts, ", ")
}

// Validate checks opts against the schema and returns them in schema order.
func (s OptionSchema) Validate(opts Options) (Options, error) {
	byName := make(map[string]Option, len(opts))
	for _, opt := range opts {
		key := strings.ToLower(strings.TrimSpace(opt.Name))
		if key == "" {
			return nil, fmt.Errorf("%w: option name is required", ErrInvalidOptions)
		}
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", ErrInvalidOptions, opt.Name)
		}
		byName[key] = Option{Name: strings.TrimSpace(opt.Name), Value: strings.TrimSpace(opt.Value)}
	}

	out := make(Options, 0, len(opts))
	for _, def := range s {
		key := strings.ToLower(def.Name)
		opt, ok := byName[key]
		if !ok {
			if def.Required {
				return nil, fmt.Errorf("%w: missing required option %q", ErrInvalidOptions, def.Name)
			}
			continue
		}
		delete(byName, key)
		if len(def.Values) > 0 && !slices.Contains(def.Values, opt.Value) {
			return nil, fmt.Errorf("%w: %q is not an allowed %s", ErrInvalidOptions, opt.Value, def.Name)
		}
		out = append(out, Option{Name: def.Name, Value: opt.Value})
	}
	if len(byName) > 0 {
		unknown := make([]string, 0, len(byName))
		for _, opt := range byName {
			unknown = append(unknown, opt.Name)
		}
		slices.Sort(unknown)
		return nil, fmt.Errorf("%w: unknown option %q", ErrInvalidOptions, unknown[0])
	}
	return out, nil
}

// ParseSchema decodes a stored option schema.
func ParseSchema(raw []byte) (OptionSchema, error) {
	if len(raw) == 0 {
		return OptionSchema{}, nil
	}
	var schema OptionSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode option schema: %w", err)
	}
	return schema, nil
}

// ParseOptions decodes stored variant options.
func ParseOptions(raw []byte) (Options, error) {
	if len(raw) == 0 {
		return Options{}, nil
	}
	var opts Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("decode variant options: %w", err)
	}
	return opts, nil
}
