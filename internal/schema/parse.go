package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// fileInfo is the on-disk schema document. Schema files are JWCC
// (JSON with comments and trailing commas), standardized before decode.
type fileInfo struct {
	Collection string      `json:"collection"`
	Version    string      `json:"version"`
	Fields     []fileField `json:"fields"`
	DedupeOn   []string    `json:"dedupe_on"`
}

type fileField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Parse decodes a schema definition from JWCC bytes.
func Parse(data []byte) (*Info, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	var file fileInfo

	err = json.Unmarshal(standardized, &file)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	info := &Info{
		Collection: file.Collection,
		Version:    file.Version,
		DedupeOn:   file.DedupeOn,
	}

	for _, f := range file.Fields {
		fieldType := FieldType(f.Type)
		if f.Type == "" {
			fieldType = FieldUntyped
		}

		info.Fields = append(info.Fields, Field{
			Name:     f.Name,
			Type:     fieldType,
			Required: f.Required,
		})
	}

	err = info.Validate()
	if err != nil {
		return nil, err
	}

	return info, nil
}

// ParseFile reads and decodes a schema definition file.
func ParseFile(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}

	info, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}

	return info, nil
}

// DedupeKey projects the dedupe fields out of a local record into a
// canonical string. Records with equal keys are semantic duplicates.
// Returns ok=false when the schema declares no dedupe fields.
func (inf *Info) DedupeKey(local LocalRecord) (string, bool, error) {
	if len(inf.DedupeOn) == 0 {
		return "", false, nil
	}

	values := make([]any, len(inf.DedupeOn))
	for i, name := range inf.DedupeOn {
		values[i] = local[name]
	}

	data, err := json.Marshal(values)
	if err != nil {
		return "", false, fmt.Errorf("dedupe key: %w", err)
	}

	return string(data), true, nil
}
