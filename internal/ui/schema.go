// Package ui builds the navigation shared by the web and terminal
// renderers from the loaded views.
//
// Views are grouped under the parent named in their menu block. The
// stock groups come first in a fixed order; any other parent becomes a
// group of its own, sorted by name after them. Views without a menu block
// are reachable by name but not listed.
package ui

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/views"
)

// MenuID uniquely identifies a menu entry. Leaf entries use the view name,
// groups the "group." prefix.
type MenuID string

// Stock menu groups.
const (
	MenuStatus   MenuID = "group.status"
	MenuSystem   MenuID = "group.system"
	MenuNetwork  MenuID = "group.network"
	MenuServices MenuID = "group.services"
)

// GroupID returns the id of the group for a menu parent.
func GroupID(parent string) MenuID {
	return MenuID("group." + parent)
}

// MenuItem represents a single item in the navigation menu.
type MenuItem struct {
	ID          MenuID     `json:"id"`
	Label       string     `json:"label"`
	Icon        string     `json:"icon,omitempty"`
	Description string     `json:"description,omitempty"`
	Href        string     `json:"href,omitempty"`
	Kind        string     `json:"kind,omitempty"` // "form", "status" or "log"
	Children    []MenuItem `json:"children,omitempty"`
}

var stockGroups = []MenuItem{
	{ID: MenuStatus, Label: "Status", Icon: "activity"},
	{ID: MenuSystem, Label: "System", Icon: "settings"},
	{ID: MenuNetwork, Label: "Network", Icon: "share-2"},
	{ID: MenuServices, Label: "Services", Icon: "server"},
}

// Href returns the page path of a view.
func Href(view string) string {
	return "/ui/" + view
}

// BuildMenu returns the navigation tree of the views in r. Labels pass
// through the printer of ctx. Groups without views are dropped.
func BuildMenu(ctx context.Context, r *views.Registry) []MenuItem {
	groups := slices.Clone(stockGroups)
	var top []MenuItem
	title := cases.Title(language.English)

	for _, v := range r.All() {
		if v.Menu == nil {
			continue
		}
		item := MenuItem{
			ID:          MenuID(v.Name),
			Label:       i18n.T(ctx, v.Title),
			Icon:        v.Menu.Icon,
			Description: v.Description,
			Href:        Href(v.Name),
			Kind:        v.Kind(),
		}
		if v.Menu.Parent == "" {
			top = append(top, item)
			continue
		}
		id := GroupID(v.Menu.Parent)
		i := slices.IndexFunc(groups, func(g MenuItem) bool { return g.ID == id })
		if i < 0 {
			label := title.String(strings.ReplaceAll(v.Menu.Parent, "_", " "))
			groups = append(groups, MenuItem{ID: id, Label: label})
			i = len(groups) - 1
		}
		groups[i].Children = append(groups[i].Children, item)
	}

	slices.SortStableFunc(groups[len(stockGroups):], func(a, b MenuItem) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	out := top
	for _, g := range groups {
		if len(g.Children) == 0 {
			continue
		}
		g.Label = i18n.T(ctx, g.Label)
		out = append(out, g)
	}
	return out
}

// FlattenMenu returns a flat list of all menu items (for search, etc.)
func FlattenMenu(items []MenuItem) []MenuItem {
	var result []MenuItem
	for _, item := range items {
		result = append(result, item)
		if len(item.Children) > 0 {
			result = append(result, FlattenMenu(item.Children)...)
		}
	}
	return result
}

// FindMenuItem finds a menu item by ID.
func FindMenuItem(items []MenuItem, id MenuID) *MenuItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
		if found := FindMenuItem(items[i].Children, id); found != nil {
			return found
		}
	}
	return nil
}

// Breadcrumb returns the path from the top of menu to id, or nil.
func Breadcrumb(menu []MenuItem, id MenuID) []MenuItem {
	var find func(items []MenuItem, path []MenuItem) []MenuItem
	find = func(items []MenuItem, path []MenuItem) []MenuItem {
		for _, item := range items {
			crumb := item
			crumb.Children = nil
			newPath := append(slices.Clip(path), crumb)
			if item.ID == id {
				return newPath
			}
			if result := find(item.Children, newPath); result != nil {
				return result
			}
		}
		return nil
	}
	return find(menu, nil)
}
