package form

// View is the renderer-neutral rendering of a Map: the web handlers encode
// it as JSON or feed it to HTML templates, the terminal editor turns it
// into huh fields.
type View struct {
	Name        string           `json:"name"`
	Config      string           `json:"config"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Session     string           `json:"session"`
	Sections    []SectionView    `json:"sections"`
	Errors      ValidationErrors `json:"errors,omitempty"`
	Dirty       bool             `json:"dirty"`
}

// SectionView is one section with its records.
type SectionView struct {
	Key         string   `json:"key"`
	Config      string   `json:"config"`
	Type        string   `json:"type"`
	Name        string   `json:"name,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Template    string   `json:"template"`
	Anonymous   bool     `json:"anonymous"`
	Addremove   bool     `json:"addremove"`
	Sortable    bool     `json:"sortable"`
	CanAdd      bool     `json:"canAdd"`
	Columns     []Column `json:"columns"`
	Rows        []Row    `json:"rows"`
}

// Column heads a table or grid section.
type Column struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Row is one record.
type Row struct {
	SID    string  `json:"sid"`
	New    bool    `json:"new,omitempty"`
	Fields []Field `json:"fields"`
}

// Field is one option of one record.
type Field struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Widget      Widget       `json:"widget"`
	Datatype    string       `json:"datatype,omitempty"`
	Value       string       `json:"value"`
	Values      []string     `json:"values,omitempty"`
	Default     string       `json:"default,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	Choices     []Choice     `json:"choices,omitempty"`
	Depends     Dependencies `json:"depends,omitempty"`
	Enabled     string       `json:"enabled,omitempty"`
	Disabled    string       `json:"disabled,omitempty"`
	Rows        int          `json:"rows,omitempty"`
	Visible     bool         `json:"visible"`
	ReadOnly    bool         `json:"readonly,omitempty"`
	Optional    bool         `json:"optional,omitempty"`
	Required    bool         `json:"required,omitempty"`
	Edited      bool         `json:"edited,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Checked reports whether a Flag field is on.
func (f Field) Checked() bool {
	return f.Widget == Flag && f.Value == f.Enabled
}

// Selected reports whether v is among the field's values.
func (f Field) Selected(v string) bool {
	if f.Widget.Multiple() {
		for _, x := range f.Values {
			if x == v {
				return true
			}
		}
		return false
	}
	return f.Value == v
}
