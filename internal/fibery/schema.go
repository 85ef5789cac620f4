package fibery

import (
	"fmt"
	"strings"
)

// Default field names of the Knowledge Management space.
const (
	DefaultEntityType    = "Knowledge Management/Material"
	DefaultIDField       = "fibery/id"
	DefaultSyncKeyField  = "Knowledge Management/External ID"
	DefaultDocumentField = "Knowledge Management/Praise"
	DefaultSecretField   = "Collaboration~Documents/secret"
)

// Schema names the destination type and fields the commands address.
type Schema struct {
	// Type is the entity type, e.g. "Knowledge Management/Material".
	Type string

	// IDField holds the caller-generated entity id.
	IDField string

	// SyncKeyField is a text field holding "tg:<update_id>".
	SyncKeyField string

	// DocumentField is the rich-text field linked to the entity.
	DocumentField string

	// SecretField is the document token selected through DocumentField.
	SecretField string
}

// DefaultSchema returns the schema of the Knowledge Management space.
func DefaultSchema() Schema {
	return Schema{
		Type:          DefaultEntityType,
		IDField:       DefaultIDField,
		SyncKeyField:  DefaultSyncKeyField,
		DocumentField: DefaultDocumentField,
		SecretField:   DefaultSecretField,
	}
}

// WithDefaults fills blank fields from DefaultSchema.
func (s Schema) WithDefaults() Schema {
	d := DefaultSchema()
	if strings.TrimSpace(s.Type) == "" {
		s.Type = d.Type
	}
	if strings.TrimSpace(s.IDField) == "" {
		s.IDField = d.IDField
	}
	if strings.TrimSpace(s.SyncKeyField) == "" {
		s.SyncKeyField = d.SyncKeyField
	}
	if strings.TrimSpace(s.DocumentField) == "" {
		s.DocumentField = d.DocumentField
	}
	if strings.TrimSpace(s.SecretField) == "" {
		s.SecretField = d.SecretField
	}
	return s
}

// Validate reports the first blank or clashing field.
func (s Schema) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"type", s.Type},
		{"id field", s.IDField},
		{"sync key field", s.SyncKeyField},
		{"document field", s.DocumentField},
		{"secret field", s.SecretField},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("schema %s is required", f.name)
		}
	}
	if s.SyncKeyField == s.IDField {
		return fmt.Errorf("schema sync key field must differ from id field %q", s.IDField)
	}
	return nil
}
