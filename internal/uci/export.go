package uci

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v2"
)

// ExportFormat selects the output of Export.
type ExportFormat string

const (
	ExportUCI  ExportFormat = "uci"
	ExportJSON ExportFormat = "json"
	ExportYAML ExportFormat = "yaml"
)

// SectionValues returns a section in the shape the ubus uci object uses:
// options plus .anonymous, .type, .name and .index.
func SectionValues(s *Section, index int) map[string]any {
	m := map[string]any{
		".anonymous": s.Anonymous,
		".type":      s.Type,
		".name":      s.Name,
		".index":     index,
	}
	for _, o := range s.Options {
		if o.Value.List {
			m[o.Name] = o.Value.Values
		} else {
			m[o.Name] = o.Value.String()
		}
	}
	return m
}

// Values returns every section of p keyed by name.
func Values(p *Package) map[string]map[string]any {
	out := make(map[string]map[string]any, len(p.Sections))
	for i, s := range p.Sections {
		out[s.Name] = SectionValues(s, i)
	}
	return out
}

// Export writes p in the requested format.
func Export(w io.Writer, p *Package, format ExportFormat) error {
	switch format {
	case ExportUCI, "":
		if _, err := fmt.Fprintf(w, "package %s\n", p.Name); err != nil {
			return err
		}
		return Write(w, p)

	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"package": p.Name, "values": Values(p)})

	case ExportYAML:
		// MapSlice keeps section and option order.
		sections := make([]yaml.MapSlice, 0, len(p.Sections))
		for _, s := range p.Sections {
			item := yaml.MapSlice{
				{Key: "name", Value: s.Name},
				{Key: "type", Value: s.Type},
			}
			if s.Anonymous {
				item = append(item, yaml.MapItem{Key: "anonymous", Value: true})
			}
			opts := yaml.MapSlice{}
			for _, o := range s.Options {
				if o.Value.List {
					opts = append(opts, yaml.MapItem{Key: o.Name, Value: o.Value.Values})
				} else {
					opts = append(opts, yaml.MapItem{Key: o.Name, Value: o.Value.String()})
				}
			}
			if len(opts) > 0 {
				item = append(item, yaml.MapItem{Key: "options", Value: opts})
			}
			sections = append(sections, item)
		}
		out, err := yaml.Marshal(yaml.MapSlice{
			{Key: "package", Value: p.Name},
			{Key: "sections", Value: sections},
		})
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	return fmt.Errorf("unknown export format %q", format)
}

// Show renders p (or one section of it) as `uci show` lines. Anonymous
// sections are addressed as @type[index].
func Show(p *Package, section string) []string {
	var lines []string
	counts := make(map[string]int)
	for _, s := range p.Sections {
		idx := counts[s.Type]
		counts[s.Type]++
		if section != "" && s.Name != section {
			continue
		}
		ref := s.Name
		if s.Anonymous {
			ref = "@" + s.Type + "[" + strconv.Itoa(idx) + "]"
		}
		prefix := p.Name + "." + ref
		lines = append(lines, prefix+"="+s.Type)
		for _, o := range s.Options {
			line := prefix + "." + o.Name + "="
			for i, v := range o.Value.Values {
				if i > 0 {
					line += " "
				}
				line += Quote(v)
			}
			lines = append(lines, line)
		}
	}
	return lines
}
