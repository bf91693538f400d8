package ui

import (
	"context"
	"encoding/json"

	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/views"
)

// PageData contains all data needed to render a page.
type PageData struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Kind        string         `json:"kind"`
	Form        *form.View     `json:"form,omitempty"`
	Tables      []*views.Table `json:"tables,omitempty"`
	Log         *LogPane       `json:"log,omitempty"`
	Menu        []MenuItem     `json:"menu"`
	ActiveMenu  MenuID         `json:"activeMenu"`
	Breadcrumb  []MenuItem     `json:"breadcrumb"`
	User        *UserInfo      `json:"user,omitempty"`
	Notice      string         `json:"notice,omitempty"`

	// Errors holds the failure of each status table that could not be
	// fetched, keyed by table name.
	Errors map[string]string `json:"errors,omitempty"`
}

// LogPane is the body of a log view.
type LogPane struct {
	Entries  []logging.Entry `json:"entries"`
	Interval float64         `json:"interval"` // seconds
}

// UserInfo contains current user information for the UI.
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// NewPageData creates the frame of the page for v. The body (form, tables
// or log) is filled in by the caller.
func NewPageData(ctx context.Context, r *views.Registry, v *views.View, user *UserInfo) *PageData {
	menu := BuildMenu(ctx, r)
	return &PageData{
		Name:        v.Name,
		Title:       i18n.T(ctx, v.Title),
		Description: v.Description,
		Kind:        v.Kind(),
		Menu:        menu,
		ActiveMenu:  MenuID(v.Name),
		Breadcrumb:  Breadcrumb(menu, MenuID(v.Name)),
		User:        user,
	}
}

// FetchTables fills the status tables of v. A table whose call fails is
// rendered empty and its error recorded.
func (pd *PageData) FetchTables(ctx context.Context, v *views.View, caller rpc.Caller) {
	for _, s := range v.Status {
		t, err := s.Fetch(ctx, caller)
		if err != nil {
			if pd.Errors == nil {
				pd.Errors = make(map[string]string)
			}
			pd.Errors[s.Name] = err.Error()
			t = s.Table(nil)
		}
		pd.Tables = append(pd.Tables, t)
	}
}

// FetchLog fills the log pane of v.
func (pd *PageData) FetchLog(ctx context.Context, v *views.View, caller rpc.Caller) error {
	entries, err := TailLog(ctx, caller, v.Name, 0)
	if err != nil {
		return err
	}
	pd.Log = &LogPane{Entries: entries, Interval: v.Log.PollInterval().Seconds()}
	return nil
}

// ToJSON serializes the page data to JSON for the web UI.
func (pd *PageData) ToJSON() ([]byte, error) {
	return json.Marshal(pd)
}

var tailStub = rpc.Declaration{
	Object: "luci.log",
	Method: "tail",
	Params: []string{"view", "lines"},
	Expect: &rpc.Expect{Key: "entries", Default: []any{}},
}

// TailLog reads the newest entries of a log view through luci.log. A
// zero lines uses the view's own setting.
func TailLog(ctx context.Context, caller rpc.Caller, view string, lines int) ([]logging.Entry, error) {
	var n any
	if lines > 0 {
		n = lines
	}
	entries := []logging.Entry{}
	if err := rpc.Declare(caller, tailStub).CallInto(ctx, &entries, view, n); err != nil {
		return nil, err
	}
	return entries, nil
}
