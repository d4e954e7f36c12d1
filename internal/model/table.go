package model

// Well known tables.
const (
	TablePages        = "pages"
	TablePagesOverlay = "pages_language_overlay"
	TableContent      = "tt_content"
	TableFiles        = "sys_file"
)

// Page types (doktype).
const (
	DoktypeDefault    = 1
	DoktypeLink       = 3
	DoktypeShortcut   = 4
	DoktypeMountPoint = 7
	DoktypeSysFolder  = 254
	DoktypeRecycler   = 255
)

// Page l18n_cfg bits.
const (
	L18nHideDefault      = 1
	L18nHideUntranslated = 2
)

// TableControl names the system columns of a table. It replaces the global
// table configuration array of the CMS with an explicit value.
type TableControl struct {
	Name                  string `yaml:"-"`
	DeleteField           string `yaml:"delete"`
	HiddenField           string `yaml:"hidden"`
	TstampField           string `yaml:"tstamp"`
	CrdateField           string `yaml:"crdate"`
	StarttimeField        string `yaml:"starttime"`
	EndtimeField          string `yaml:"endtime"`
	GroupField            string `yaml:"feGroup"`
	LanguageField         string `yaml:"language"`
	TransOrigPointerField string `yaml:"transOrigPointer"`
}

// DefaultTableControl returns the column names used by the stock tables.
func DefaultTableControl(table string) TableControl {
	tc := TableControl{
		Name:                  table,
		DeleteField:           "deleted",
		HiddenField:           "hidden",
		TstampField:           "tstamp",
		CrdateField:           "crdate",
		StarttimeField:        "starttime",
		EndtimeField:          "endtime",
		GroupField:            "fe_group",
		LanguageField:         "sys_language_uid",
		TransOrigPointerField: "l18n_parent",
	}
	switch table {
	case TablePages:
		// pages are translated through pages_language_overlay
		tc.LanguageField = ""
		tc.TransOrigPointerField = ""
	case TablePagesOverlay:
		tc.TransOrigPointerField = ""
		tc.GroupField = ""
	}
	return tc
}

// Merge fills empty columns of tc from def.
func (tc TableControl) Merge(def TableControl) TableControl {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	if tc.Name == "" {
		tc.Name = def.Name
	}
	fill(&tc.DeleteField, def.DeleteField)
	fill(&tc.HiddenField, def.HiddenField)
	fill(&tc.TstampField, def.TstampField)
	fill(&tc.CrdateField, def.CrdateField)
	fill(&tc.StarttimeField, def.StarttimeField)
	fill(&tc.EndtimeField, def.EndtimeField)
	fill(&tc.GroupField, def.GroupField)
	fill(&tc.LanguageField, def.LanguageField)
	fill(&tc.TransOrigPointerField, def.TransOrigPointerField)
	return tc
}

// Deleted reports whether the record is soft deleted.
func (tc TableControl) Deleted(r Record) bool {
	return tc.DeleteField != "" && r.Int(tc.DeleteField) != 0
}

// Enabled reports whether the record is visible for indexing: not deleted,
// not hidden and, for pages, not excluded from search.
func (tc TableControl) Enabled(r Record) bool {
	if r == nil || tc.Deleted(r) {
		return false
	}
	if tc.HiddenField != "" && r.Int(tc.HiddenField) != 0 {
		return false
	}
	if tc.Name == TablePages && r.Int("no_search") != 0 {
		return false
	}
	return true
}

// Localized reports whether r is a translation pointing to a source record.
func (tc TableControl) Localized(r Record) bool {
	if tc.Name == TablePagesOverlay {
		return true
	}
	if tc.LanguageField == "" || tc.TransOrigPointerField == "" {
		return false
	}
	return r.Int(tc.LanguageField) > 0 && r.Int(tc.TransOrigPointerField) > 0
}

// SourceUID returns the uid of the default language record r belongs to.
func (tc TableControl) SourceUID(r Record) int {
	if tc.Name == TablePagesOverlay {
		return r.PID()
	}
	if tc.Localized(r) {
		return r.Int(tc.TransOrigPointerField)
	}
	return r.UID()
}
