package impl

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/option"
)

// Constructor builds an implementation. It must not start any I/O;
// OnConstruct runs right after it.
type Constructor func(env Env) (Implementation, error)

// Properties describe what a registered implementation can do.
type Properties struct {
	Description string            `json:"description,omitempty"`
	Inputs      []option.DataType `json:"inputs,omitempty"`
	Outputs     []option.DataType `json:"outputs,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Registration holds a constructor and its metadata.
type Registration struct {
	Category   option.Category `json:"category"`
	Variants   []string        `json:"variants"`
	Properties Properties      `json:"properties"`
	Factory    Constructor     `json:"-"`
}

// RegistrationConfig is the argument of Register.
type RegistrationConfig struct {
	Category   option.Category
	Variants   []string    // variant name aliases, matched case-insensitively
	Properties Properties  // capability description
	Factory    Constructor // constructor invoked by Create
}

// Registry maps a category and variant name to a constructor. It is built at
// startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Registration)}
}

// Key returns the registry key of a category and variant.
func Key(category option.Category, variant string) string {
	return category.String() + "_" + strings.ToLower(variant)
}

// Register adds a constructor under every variant alias. Registering an alias
// twice fails without registering any of cfg's aliases.
func (r *Registry) Register(cfg RegistrationConfig) error {
	if cfg.Category == option.NotACategory {
		return errors.WrapInvalid(errors.ErrNoCategory, "Registry", "Register", "category validation")
	}
	if len(cfg.Variants) == 0 {
		return errors.WrapInvalid(errors.ErrNoVariant, "Registry", "Register", "variant validation")
	}
	if cfg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory validation")
	}

	reg := &Registration{
		Category:   cfg.Category,
		Variants:   slices.Clone(cfg.Variants),
		Properties: cfg.Properties,
		Factory:    cfg.Factory,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range cfg.Variants {
		if v == "" {
			return errors.WrapInvalid(errors.ErrNoVariant, "Registry", "Register", "empty variant alias")
		}
		if _, exists := r.entries[Key(cfg.Category, v)]; exists {
			msg := fmt.Errorf("%w: %s", errors.ErrKeyExists, Key(cfg.Category, v))
			return errors.WrapInvalid(msg, "Registry", "Register", "duplicate variant check")
		}
	}
	for _, v := range cfg.Variants {
		r.entries[Key(cfg.Category, v)] = reg
	}
	return nil
}

// Lookup returns the registration of category and variant.
func (r *Registry) Lookup(category option.Category, variant string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[Key(category, variant)]
	return reg, ok
}

// Keys returns every registered key, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// Variants returns the variant aliases registered for category, sorted.
func (r *Registry) Variants(category option.Category) []string {
	prefix := category.String() + "_"
	var out []string
	for _, k := range r.Keys() {
		if v, ok := strings.CutPrefix(k, prefix); ok {
			out = append(out, v)
		}
	}
	return out
}

// Create builds and constructs the implementation env.Options selects. The
// error wraps ErrNoCategory, ErrNoVariant, ErrVariantNotRegistered or
// ErrCreateImplementation; a panicking constructor is reported as the latter.
func (r *Registry) Create(env Env) (im Implementation, err error) {
	opts := env.Options
	if opts == nil {
		return nil, r.fail(env, errors.WrapInvalid(errors.ErrEmptyOption, "Registry", "Create", "options validation"))
	}

	category, cerr := opts.Category()
	if cerr != nil {
		return nil, r.fail(env, errors.WrapInvalid(errors.ErrNoCategory, "Registry", "Create", "category lookup"))
	}
	if !opts.Has(option.KeyImplType) {
		return nil, r.fail(env, errors.WrapInvalid(errors.ErrNoVariant, "Registry", "Create", "variant lookup"))
	}
	variant := opts.Get(option.KeyImplType)

	reg, ok := r.Lookup(category, variant)
	if !ok {
		msg := fmt.Errorf("%w: %s", errors.ErrVariantNotRegistered, Key(category, variant))
		return nil, r.fail(env, errors.WrapInvalid(msg, "Registry", "Create", "factory lookup"))
	}

	defer func() {
		if p := recover(); p != nil {
			im = nil
			msg := fmt.Errorf("%w: %s panicked: %v", errors.ErrCreateImplementation, Key(category, variant), p)
			err = r.fail(env, errors.WrapFatal(msg, "Registry", "Create", "factory execution"))
		}
	}()

	im, err = reg.Factory(env)
	if err != nil {
		msg := fmt.Errorf("%w: %w", errors.ErrCreateImplementation, err)
		return nil, r.fail(env, errors.WrapFatal(msg, "Registry", "Create", "factory execution"))
	}
	if im == nil {
		msg := fmt.Errorf("%w: %s returned nil", errors.ErrCreateImplementation, Key(category, variant))
		return nil, r.fail(env, errors.WrapFatal(msg, "Registry", "Create", "factory execution"))
	}
	if err := im.OnConstruct(); err != nil {
		_ = im.OnDestruct()
		msg := fmt.Errorf("%w: %w", errors.ErrCreateImplementation, err)
		return nil, r.fail(env, errors.WrapFatal(msg, "Registry", "Create", "construct"))
	}

	env.Messages.Add(message.InfoImplCreated, opts.GetDefault(option.KeyLogtag, ""), Key(category, variant))
	return im, nil
}

func (r *Registry) fail(env Env, err error) error {
	var tag string
	if env.Options != nil {
		tag = env.Options.GetDefault(option.KeyLogtag, "")
	}
	env.Messages.AddError(tag, err)
	return err
}
