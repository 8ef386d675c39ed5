// Package schema describes the shape of records stored by a replica and
// the translation between the application's native form and the local
// storage form.
//
// Record contents vary per deployment, so records are dynamic values
// (JSON-shaped trees) validated against an [Info] at the boundary rather
// than closed struct types.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/syncstore/internal/ident"
)

// ErrSchemaViolation reports a record rejected at the native↔local
// boundary. Callers should use errors.Is(err, ErrSchemaViolation).
var ErrSchemaViolation = errors.New("schema violation")

// ErrSchemaMismatch reports a stored schema version incompatible with
// the schema an open provided. Callers should use
// errors.Is(err, ErrSchemaMismatch).
var ErrSchemaMismatch = errors.New("schema mismatch")

// GuidField is the reserved field that carries record identity in both
// native and local form.
const GuidField = "id"

// FieldType enumerates the value shapes a schema field may take.
type FieldType string

const (
	// FieldString accepts JSON strings.
	FieldString FieldType = "string"
	// FieldNumber accepts JSON numbers.
	FieldNumber FieldType = "number"
	// FieldBoolean accepts JSON booleans.
	FieldBoolean FieldType = "boolean"
	// FieldUntyped accepts any JSON value.
	FieldUntyped FieldType = "untyped"
)

// Field is one declared record field.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Info is the immutable description of a record type held by an open
// store: version, declared fields, and which fields participate in
// semantic deduplication. DedupeOn may be empty, which disables the
// duplicate check entirely.
type Info struct {
	// Collection is the wire collection tag for this record type.
	Collection string
	// Version is a "major.minor" version string.
	Version string
	// Fields lists the declared fields, GuidField excluded.
	Fields []Field
	// DedupeOn names the fields whose combined values identify a
	// semantic duplicate. Each must name a declared field.
	DedupeOn []string
}

// Validate checks the schema definition itself.
func (inf *Info) Validate() error {
	if inf.Collection == "" {
		return fmt.Errorf("schema: collection is empty: %w", ErrSchemaViolation)
	}

	_, _, err := parseVersion(inf.Version)
	if err != nil {
		return err
	}

	byName := make(map[string]Field, len(inf.Fields))

	for _, f := range inf.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema: field with empty name: %w", ErrSchemaViolation)
		}

		if f.Name == GuidField {
			return fmt.Errorf("schema: field %q is reserved: %w", GuidField, ErrSchemaViolation)
		}

		if _, dup := byName[f.Name]; dup {
			return fmt.Errorf("schema: duplicate field %q: %w", f.Name, ErrSchemaViolation)
		}

		switch f.Type {
		case FieldString, FieldNumber, FieldBoolean, FieldUntyped:
		default:
			return fmt.Errorf("schema: field %q has unknown type %q: %w", f.Name, f.Type, ErrSchemaViolation)
		}

		byName[f.Name] = f
	}

	for _, name := range inf.DedupeOn {
		if _, ok := byName[name]; !ok {
			return fmt.Errorf("schema: dedupe field %q is not declared: %w", name, ErrSchemaViolation)
		}
	}

	return nil
}

// field returns the declaration for name, if any.
func (inf *Info) field(name string) (Field, bool) {
	for _, f := range inf.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// CompatibleWith reports whether a store whose meta records
// storedVersion can be opened with this schema. Majors must match and
// the stored minor must not be ahead of ours; there is no automatic
// migration between majors.
func (inf *Info) CompatibleWith(storedVersion string) error {
	sMajor, sMinor, err := parseVersion(storedVersion)
	if err != nil {
		return err
	}

	major, minor, err := parseVersion(inf.Version)
	if err != nil {
		return err
	}

	if sMajor != major || sMinor > minor {
		return fmt.Errorf("stored schema %s vs provided %s: %w",
			storedVersion, inf.Version, ErrSchemaMismatch)
	}

	return nil
}

// parseVersion splits a "major.minor" version string.
func parseVersion(v string) (major, minor int, err error) {
	majorStr, minorStr, ok := strings.Cut(v, ".")
	if !ok {
		return 0, 0, fmt.Errorf("schema version %q is not major.minor: %w", v, ErrSchemaViolation)
	}

	major, err = strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("schema version %q: %w: %w", v, ErrSchemaViolation, err)
	}

	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("schema version %q: %w: %w", v, ErrSchemaViolation, err)
	}

	if major < 0 || minor < 0 {
		return 0, 0, fmt.Errorf("schema version %q is negative: %w", v, ErrSchemaViolation)
	}

	return major, minor, nil
}

// NativeRecord is a record in the application's shape.
type NativeRecord map[string]any

// LocalRecord is a record in storage shape. Identity lives in the row
// key, so the GuidField is stripped.
type LocalRecord map[string]any

// ToLocalReason distinguishes why a native record is being translated.
type ToLocalReason int

const (
	// ToLocalCreation allocates a GUID when the record has none.
	ToLocalCreation ToLocalReason = iota
	// ToLocalUpdate requires the record to already carry its GUID.
	ToLocalUpdate
)

// NativeToLocal validates native against the schema and splits identity
// from content. For [ToLocalCreation] a missing GUID is allocated; for
// [ToLocalUpdate] it is required.
func (inf *Info) NativeToLocal(native NativeRecord, reason ToLocalReason) (string, LocalRecord, error) {
	guid, err := inf.extractGuid(native, reason)
	if err != nil {
		return "", nil, err
	}

	local := make(LocalRecord, len(native))

	for name, value := range native {
		if name == GuidField {
			continue
		}

		field, declared := inf.field(name)
		if !declared {
			return "", nil, fmt.Errorf("field %q is not declared: %w", name, ErrSchemaViolation)
		}

		err := checkFieldValue(field, value)
		if err != nil {
			return "", nil, err
		}

		local[name] = value
	}

	for _, f := range inf.Fields {
		if !f.Required {
			continue
		}

		if _, ok := local[f.Name]; !ok {
			return "", nil, fmt.Errorf("required field %q is missing: %w", f.Name, ErrSchemaViolation)
		}
	}

	return guid, local, nil
}

// LocalToNative rebuilds the application shape, reattaching identity.
func (inf *Info) LocalToNative(guid string, local LocalRecord) NativeRecord {
	native := make(NativeRecord, len(local)+1)
	native[GuidField] = guid

	for name, value := range local {
		native[name] = value
	}

	return native
}

// extractGuid pulls the identity out of a native record.
func (inf *Info) extractGuid(native NativeRecord, reason ToLocalReason) (string, error) {
	raw, present := native[GuidField]

	if !present || raw == nil || raw == "" {
		if reason == ToLocalUpdate {
			return "", fmt.Errorf("update record has no %q: %w", GuidField, ErrSchemaViolation)
		}

		guid, err := ident.NewGUID()
		if err != nil {
			return "", err
		}

		return guid, nil
	}

	guid, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string, got %T: %w", GuidField, raw, ErrSchemaViolation)
	}

	return guid, nil
}

// checkFieldValue validates one value against its declaration.
func checkFieldValue(f Field, value any) error {
	if value == nil {
		if f.Required {
			return fmt.Errorf("required field %q is null: %w", f.Name, ErrSchemaViolation)
		}

		return nil
	}

	switch f.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string, got %T: %w", f.Name, value, ErrSchemaViolation)
		}
	case FieldNumber:
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("field %q must be a number, got %T: %w", f.Name, value, ErrSchemaViolation)
		}
	case FieldBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean, got %T: %w", f.Name, value, ErrSchemaViolation)
		}
	case FieldUntyped:
	}

	return nil
}
