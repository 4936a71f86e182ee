// Package schema derives JSON-Schema (draft-07) descriptors from Go types
// and validates payloads against them.
//
// Derivation follows encoding/json: field names come from json tags,
// omitempty/omitzero and pointer fields are optional, embedded structs are
// flattened. A `desc` struct tag becomes the property description. Structs
// are closed unless they implement Opener.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// DraftURI is the meta-schema every root descriptor declares.
const DraftURI = "http://json-schema.org/draft-07/schema#"

// Descriptor is a JSON-Schema document or sub-document.
type Descriptor struct {
	Schema      string `json:"$schema,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// Type is a string, or a []string when the value is nullable.
	Type       any                    `json:"type,omitempty"`
	Format     string                 `json:"format,omitempty"`
	Properties map[string]*Descriptor `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
	// AdditionalProperties is false for closed objects or a *Descriptor
	// constraining map values.
	AdditionalProperties any         `json:"additionalProperties,omitempty"`
	Items                *Descriptor `json:"items,omitempty"`
	MinItems             *int        `json:"minItems,omitempty"`
	MaxItems             *int        `json:"maxItems,omitempty"`
	Minimum              *float64    `json:"minimum,omitempty"`
}

// Opener is implemented by struct types that accept properties beyond their
// declared fields.
type Opener interface {
	OpenSchema() bool
}

var (
	openerType     = reflect.TypeOf((*Opener)(nil)).Elem()
	timeType       = reflect.TypeOf(time.Time{})
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
	marshalerType  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// Derive builds the root descriptor for t.
func Derive(t reflect.Type) (*Descriptor, error) {
	if t == nil {
		return nil, fmt.Errorf("schema: nil type")
	}
	d := &deriver{inProgress: make(map[reflect.Type]bool)}
	desc, err := d.derive(t, t.String())
	if err != nil {
		return nil, err
	}
	desc.Schema = DraftURI
	if t.Name() != "" {
		desc.Title = t.Name()
	}
	return desc, nil
}

type deriver struct {
	// inProgress holds the struct types on the current derivation path.
	inProgress map[reflect.Type]bool
}

func (d *deriver) derive(t reflect.Type, path string) (*Descriptor, error) {
	switch t {
	case timeType:
		return &Descriptor{Type: "string", Format: "date-time"}, nil
	case rawMessageType:
		return &Descriptor{}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return &Descriptor{Type: "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &Descriptor{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return &Descriptor{Type: "number"}, nil
	case reflect.String:
		return &Descriptor{Type: "string"}, nil
	case reflect.Interface:
		return &Descriptor{}, nil
	case reflect.Pointer:
		inner, err := d.derive(t.Elem(), path)
		if err != nil {
			return nil, err
		}
		return nullable(inner), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			// encoding/json writes []byte as base64 text
			return &Descriptor{Type: []string{"string", "null"}}, nil
		}
		items, err := d.derive(t.Elem(), path+"[]")
		if err != nil {
			return nil, err
		}
		// nil slices encode as null
		return &Descriptor{Type: []string{"array", "null"}, Items: items}, nil
	case reflect.Array:
		items, err := d.derive(t.Elem(), path+"[]")
		if err != nil {
			return nil, err
		}
		n := t.Len()
		return &Descriptor{Type: "array", Items: items, MinItems: &n, MaxItems: &n}, nil
	case reflect.Map:
		if !validMapKey(t.Key()) {
			return nil, fmt.Errorf("schema: %s: unsupported map key type %s", path, t.Key())
		}
		values, err := d.derive(t.Elem(), path+"{}")
		if err != nil {
			return nil, err
		}
		desc := &Descriptor{Type: []string{"object", "null"}, AdditionalProperties: values}
		if isUnconstrained(values) {
			desc.AdditionalProperties = true
		}
		return desc, nil
	case reflect.Struct:
		return d.deriveStruct(t, path)
	default:
		return nil, fmt.Errorf("schema: %s: unsupported kind %s", path, t.Kind())
	}
}

func (d *deriver) deriveStruct(t reflect.Type, path string) (*Descriptor, error) {
	if d.inProgress[t] {
		return nil, fmt.Errorf("schema: %s: self-referential type %s", path, t)
	}
	// Custom marshalers control their own encoding; nothing to derive.
	if t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType) {
		return &Descriptor{}, nil
	}
	d.inProgress[t] = true
	defer delete(d.inProgress, t)

	desc := &Descriptor{
		Type:       "object",
		Properties: make(map[string]*Descriptor),
	}
	if err := d.collectFields(t, path, desc); err != nil {
		return nil, err
	}
	if !isOpen(t) {
		desc.AdditionalProperties = false
	}
	return desc, nil
}

// collectFields adds the fields of t to desc. Direct fields are added before
// promoted ones so the shallower field wins on a name clash.
func (d *deriver) collectFields(t reflect.Type, path string, desc *Descriptor) error {
	var embedded []reflect.StructField

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded = append(embedded, field)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if _, exists := desc.Properties[name]; exists {
			continue
		}

		prop, err := d.derive(field.Type, path+"."+name)
		if err != nil {
			return err
		}
		if text := field.Tag.Get("desc"); text != "" {
			prop.Description = text
		}
		desc.Properties[name] = prop

		if !optional(field, opts) {
			desc.Required = append(desc.Required, name)
		}
	}

	for _, field := range embedded {
		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if d.inProgress[ft] {
			return fmt.Errorf("schema: %s: self-referential type %s", path, ft)
		}
		d.inProgress[ft] = true
		err := d.collectFields(ft, path, desc)
		delete(d.inProgress, ft)
		if err != nil {
			return err
		}
	}
	return nil
}

func optional(field reflect.StructField, opts string) bool {
	if field.Type.Kind() == reflect.Pointer {
		return true
	}
	for _, opt := range strings.Split(opts, ",") {
		if opt == "omitempty" || opt == "omitzero" {
			return true
		}
	}
	return false
}

func isOpen(t reflect.Type) bool {
	switch {
	case t.Implements(openerType):
		return reflect.Zero(t).Interface().(Opener).OpenSchema()
	case reflect.PointerTo(t).Implements(openerType):
		return reflect.New(t).Interface().(Opener).OpenSchema()
	}
	return false
}

func validMapKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func nullable(desc *Descriptor) *Descriptor {
	switch typ := desc.Type.(type) {
	case string:
		desc.Type = []string{typ, "null"}
	case []string:
		for _, s := range typ {
			if s == "null" {
				return desc
			}
		}
		desc.Type = append(typ, "null")
	}
	return desc
}

func isUnconstrained(desc *Descriptor) bool {
	return desc.Type == nil && desc.Properties == nil && desc.Items == nil &&
		desc.AdditionalProperties == nil && desc.Format == ""
}
