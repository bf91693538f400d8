package uci

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Write serializes p in the canonical UCI file layout:
//
//	config interface 'lan'
//		option proto 'static'
//		list dns '1.1.1.1'
//
// Anonymous sections are written without a name.
func Write(w io.Writer, p *Package) error {
	bw := bufio.NewWriter(w)
	for _, s := range p.Sections {
		bw.WriteString("\nconfig ")
		bw.WriteString(s.Type)
		if !s.Anonymous {
			bw.WriteByte(' ')
			bw.WriteString(Quote(s.Name))
		}
		bw.WriteByte('\n')
		for _, o := range s.Options {
			if o.Value.List {
				for _, v := range o.Value.Values {
					bw.WriteString("\tlist " + o.Name + " " + Quote(v) + "\n")
				}
				continue
			}
			bw.WriteString("\toption " + o.Name + " " + Quote(o.Value.String()) + "\n")
		}
	}
	if len(p.Sections) > 0 {
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Format returns the serialized package.
func Format(p *Package) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, p)
	return buf.Bytes()
}

// Quote wraps s in single quotes, escaping embedded quotes the shell way.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
