package audit

import (
	"fmt"
	"reflect"
	"strings"
)

// Policy controls whether a field is tracked and whether its value is redacted.
type Policy int

const (
	PolicyDefault Policy = iota
	PolicyIgnore
	PolicyMask
)

func (p Policy) String() string {
	switch p {
	case PolicyIgnore:
		return "ignore"
	case PolicyMask:
		return "mask"
	default:
		return "default"
	}
}

const tagName = "audit"

// Bookkeeping fields that never produce change records.
var builtinIgnored = map[string]struct{}{
	"UpdatedAt":    {},
	"LastModified": {},
	"Timestamp":    {},
}

// Field is one audited field of an entity type.
type Field struct {
	Name   string
	Policy Policy
	index  []int
}

// Descriptor is the resolved audit description of one entity type.
type Descriptor struct {
	Name   string
	Type   reflect.Type
	Fields []Field
}

// TypeSpec declares how one entity type is audited. Build it with Describe
// and hand it to NewCatalog.
type TypeSpec struct {
	name   string
	typ    reflect.Type
	ignore []string
	mask   []string
}

// Describe starts a spec for T. An empty name defaults to the Go type name.
func Describe[T any](name string) *TypeSpec {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if name == "" {
		name = typ.Name()
	}
	return &TypeSpec{name: name, typ: typ}
}

// Ignore excludes fields from the change log.
func (s *TypeSpec) Ignore(fields ...string) *TypeSpec {
	s.ignore = append(s.ignore, fields...)
	return s
}

// Mask redacts the values of fields in the change log.
func (s *TypeSpec) Mask(fields ...string) *TypeSpec {
	s.mask = append(s.mask, fields...)
	return s
}

// Catalog maps entity types to their descriptors. It is immutable once
// built, so lookups need no synchronisation.
type Catalog struct {
	byType map[reflect.Type]*Descriptor
	byName map[string]*Descriptor
	names  []string
}

// NewCatalog resolves every spec. Policies naming a field the type does not
// have are rejected here rather than silently ignored at diff time.
func NewCatalog(specs ...*TypeSpec) (*Catalog, error) {
	c := &Catalog{
		byType: make(map[reflect.Type]*Descriptor, len(specs)),
		byName: make(map[string]*Descriptor, len(specs)),
	}
	for _, spec := range specs {
		desc, err := resolve(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byType[desc.Type]; dup {
			return nil, fmt.Errorf("audit: type %s registered twice", desc.Type)
		}
		if _, dup := c.byName[desc.Name]; dup {
			return nil, fmt.Errorf("audit: entity name %q registered twice", desc.Name)
		}
		c.byType[desc.Type] = desc
		c.byName[desc.Name] = desc
		c.names = append(c.names, desc.Name)
	}
	return c, nil
}

// MustCatalog is NewCatalog for package-level wiring; it panics on error.
func MustCatalog(specs ...*TypeSpec) *Catalog {
	c, err := NewCatalog(specs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the descriptor for t, dereferencing pointer types.
func (c *Catalog) Lookup(t reflect.Type) (*Descriptor, bool) {
	if c == nil || t == nil {
		return nil, false
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	desc, ok := c.byType[t]
	return desc, ok
}

// LookupName returns the descriptor registered under an entity name.
func (c *Catalog) LookupName(name string) (*Descriptor, bool) {
	if c == nil {
		return nil, false
	}
	desc, ok := c.byName[name]
	return desc, ok
}

// Describe lists the fields of t with their policies in declaration order.
// Unregistered types yield an empty list.
func (c *Catalog) Describe(t reflect.Type) []Field {
	desc, ok := c.Lookup(t)
	if !ok {
		return nil
	}
	out := make([]Field, len(desc.Fields))
	copy(out, desc.Fields)
	return out
}

// Names returns the registered entity names in registration order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

func resolve(spec *TypeSpec) (*Descriptor, error) {
	if spec == nil || spec.typ == nil {
		return nil, fmt.Errorf("audit: nil type spec")
	}
	typ := spec.typ
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("audit: %s is not a struct type", typ)
	}

	desc := &Descriptor{Name: spec.name, Type: typ}
	positions := make(map[string]int)
	for _, sf := range reflect.VisibleFields(typ) {
		if !sf.IsExported() || isEmbeddedStruct(sf) {
			continue
		}
		if _, seen := positions[sf.Name]; seen {
			continue
		}
		positions[sf.Name] = len(desc.Fields)
		desc.Fields = append(desc.Fields, Field{
			Name:   sf.Name,
			Policy: tagPolicy(sf),
			index:  sf.Index,
		})
	}

	apply := func(names []string, p Policy) error {
		for _, name := range names {
			pos, ok := positions[name]
			if !ok {
				return fmt.Errorf("audit: %s has no exported field %q", typ, name)
			}
			if desc.Fields[pos].Policy != PolicyIgnore {
				desc.Fields[pos].Policy = p
			}
		}
		return nil
	}
	if err := apply(spec.mask, PolicyMask); err != nil {
		return nil, err
	}
	if err := apply(spec.ignore, PolicyIgnore); err != nil {
		return nil, err
	}
	return desc, nil
}

func tagPolicy(sf reflect.StructField) Policy {
	if _, ok := builtinIgnored[sf.Name]; ok {
		return PolicyIgnore
	}
	tag, _, _ := strings.Cut(sf.Tag.Get(tagName), ",")
	switch strings.TrimSpace(tag) {
	case "-", "ignore":
		return PolicyIgnore
	case "mask":
		return PolicyMask
	}
	return PolicyDefault
}

func isEmbeddedStruct(sf reflect.StructField) bool {
	if !sf.Anonymous {
		return false
	}
	t := sf.Type
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}
