// Package schema holds the registry of payload schemas, one per event type and
// schema version, and validates payloads against them before publishing.
package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/jsoncodec"
)

// FieldType is the JSON shape a field must have.
type FieldType string

const (
	String  FieldType = "string"
	Number  FieldType = "number"
	Boolean FieldType = "boolean"
	Date    FieldType = "date"
	Object  FieldType = "object"
	Array   FieldType = "array"
)

// Field describes one payload field. Dotted names address nested objects,
// e.g. "error.code".
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Enum     []string
}

// Schema is the payload shape of one event type at one version.
type Schema struct {
	EventType   string
	Version     int
	Description string
	Fields      []Field
}

// Registry stores schemas by event type and version. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]map[int]Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]map[int]Schema)}
}

// Register adds a schema. Registering the same (event type, version) twice fails.
func (r *Registry) Register(s Schema) error {
	if s.EventType == "" {
		return fmt.Errorf("schema: event type is required")
	}
	if s.Version < 1 {
		return fmt.Errorf("schema: %s version must be positive, got %d", s.EventType, s.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.schemas[s.EventType]
	if !ok {
		versions = make(map[int]Schema)
		r.schemas[s.EventType] = versions
	}
	if _, exists := versions[s.Version]; exists {
		return fmt.Errorf("%w: %s v%d", errspkg.ErrSchemaExists, s.EventType, s.Version)
	}
	versions[s.Version] = s
	return nil
}

// MustRegister registers every schema and panics on the first failure.
func (r *Registry) MustRegister(schemas ...Schema) *Registry {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Schema returns the latest version registered for eventType.
func (r *Registry) Schema(eventType string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.schemas[eventType]
	latest, found := 0, false
	for v := range versions {
		if !found || v > latest {
			latest, found = v, true
		}
	}
	if !found {
		return Schema{}, fmt.Errorf("%w: %s", errspkg.ErrSchemaNotFound, eventType)
	}
	return versions[latest], nil
}

// SchemaVersion returns one specific version.
func (r *Registry) SchemaVersion(eventType string, version int) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[eventType][version]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s v%d", errspkg.ErrSchemaNotFound, eventType, version)
	}
	return s, nil
}

// Versions lists the registered versions of eventType in ascending order.
func (r *Registry) Versions(eventType string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int, 0, len(r.schemas[eventType]))
	for v := range r.schemas[eventType] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// EventTypes lists every event type with at least one schema, sorted.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clear drops every schema.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = make(map[string]map[int]Schema)
}

// IsCompatible reports whether consumers of version from can read events
// written with version to: to adds no required field unknown to from, and
// no shared field changes type.
func (r *Registry) IsCompatible(eventType string, from, to int) (bool, error) {
	older, err := r.SchemaVersion(eventType, from)
	if err != nil {
		return false, err
	}
	newer, err := r.SchemaVersion(eventType, to)
	if err != nil {
		return false, err
	}

	known := make(map[string]Field, len(older.Fields))
	for _, f := range older.Fields {
		known[f.Name] = f
	}
	for _, f := range newer.Fields {
		prev, ok := known[f.Name]
		if !ok {
			if f.Required {
				return false, nil
			}
			continue
		}
		if prev.Type != f.Type {
			return false, nil
		}
	}
	return true, nil
}

// ValidateEvent validates payload against the latest schema of eventType.
// Violations are returned as ValidationErrors naming each offending field.
func (r *Registry) ValidateEvent(eventType string, payload any) error {
	s, err := r.Schema(eventType)
	if err != nil {
		return err
	}
	return s.Validate(payload)
}

// ValidateVersion validates payload against one specific schema version.
func (r *Registry) ValidateVersion(eventType string, version int, payload any) error {
	s, err := r.SchemaVersion(eventType, version)
	if err != nil {
		return err
	}
	return s.Validate(payload)
}

// Validate checks payload, any JSON-encodable value, against the schema.
func (s Schema) Validate(payload any) error {
	doc, err := jsoncodec.ToMap(payload)
	if err != nil {
		return fmt.Errorf("%w: %s payload is not a JSON object: %v", errspkg.ErrInvalidPayload, s.EventType, err)
	}

	var errs ValidationErrors
	for _, f := range s.Fields {
		value, present := lookup(doc, f.Name)
		if !present || value == nil || (f.Type == String && value == "") {
			if f.Required {
				errs = append(errs, requiredFieldError(s, f.Name))
			}
			continue
		}
		if actual, ok := matches(f.Type, value); !ok {
			errs = append(errs, typeMismatchError(s, f.Name, f.Type, actual))
			continue
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, fmt.Sprint(value)) {
			errs = append(errs, enumError(s, f.Name, value, f.Enum))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func lookup(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matches(want FieldType, value any) (actual string, ok bool) {
	actual = jsonKind(value)
	switch want {
	case Date:
		str, isString := value.(string)
		if !isString {
			return actual, false
		}
		if _, err := time.Parse(time.RFC3339Nano, str); err != nil {
			return "non-date string", false
		}
		return actual, true
	default:
		return actual, actual == string(want)
	}
}

func jsonKind(value any) string {
	switch value.(type) {
	case string:
		return string(String)
	case float64, int, int64:
		return string(Number)
	case bool:
		return string(Boolean)
	case map[string]any:
		return string(Object)
	case []any:
		return string(Array)
	default:
		return fmt.Sprintf("%T", value)
	}
}
