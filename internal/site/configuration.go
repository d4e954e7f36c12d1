package site

import (
	"fmt"
	"sort"
)

// IndexingConfiguration maps a source table onto search documents.
type IndexingConfiguration struct {
	Name                  string
	Table                 string
	Enabled               bool
	Fields                map[string]FieldDefinition
	FieldProcessing       map[string][]string
	AdditionalWhereClause string
	RecursiveUpdateFields []string
	Indexer               string
	IndexerOptions        map[string]string
	Priority              int
}

// TableName is the table the configuration indexes; it defaults to the
// configuration name.
func (c *IndexingConfiguration) TableName() string {
	if c.Table != "" {
		return c.Table
	}
	return c.Name
}

// FieldNames returns the mapped document fields in a stable order.
func (c *IndexingConfiguration) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecursiveUpdate reports whether a change of any of fields must re-queue the
// subtree below a page.
func (c *IndexingConfiguration) RecursiveUpdate(fields []string) bool {
	for _, f := range fields {
		for _, r := range c.RecursiveUpdateFields {
			if f == r {
				return true
			}
		}
	}
	return false
}

// FieldDefinition is either a plain column name or a content object evaluated
// against the record.
type FieldDefinition struct {
	Column string
	Object *ContentObject
}

// UnmarshalYAML accepts "title" as well as {type: SOLR_CONTENT, field: bodytext}.
func (f *FieldDefinition) UnmarshalYAML(unmarshal func(any) error) error {
	var column string
	if err := unmarshal(&column); err == nil {
		f.Column = column
		return nil
	}
	var obj ContentObject
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("field definition: %w", err)
	}
	f.Object = &obj
	return nil
}

// ContentObject describes a derived field value.
type ContentObject struct {
	Type         string `yaml:"type"`
	Field        string `yaml:"field"`
	Value        string `yaml:"value"`
	Wrap         string `yaml:"wrap"`
	Separator    string `yaml:"separator"`
	MultiValue   bool   `yaml:"multiValue"`
	ForeignTable string `yaml:"foreignTable"`
	ForeignLabel string `yaml:"foreignLabel"`
}
