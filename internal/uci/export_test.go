package uci

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestExport(t *testing.T) {
	p, err := ParseBytes("network", []byte(networkText))
	require.NoError(t, err)

	t.Run("uci", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Export(&buf, p, ExportUCI))
		assert.True(t, strings.HasPrefix(buf.String(), "package network\n\nconfig interface 'loopback'\n"))
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Export(&buf, p, ExportJSON))

		var out struct {
			Package string                    `json:"package"`
			Values  map[string]map[string]any `json:"values"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, "network", out.Package)
		lan := out.Values["lan"]
		assert.Equal(t, "interface", lan[".type"])
		assert.Equal(t, float64(1), lan[".index"])
		assert.Equal(t, []any{"1.1.1.1", "9.9.9.9"}, lan["dns"])
		assert.Equal(t, true, out.Values[p.Sections[2].Name][".anonymous"])
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Export(&buf, p, ExportYAML))

		var out struct {
			Package  string `yaml:"package"`
			Sections []struct {
				Name      string         `yaml:"name"`
				Type      string         `yaml:"type"`
				Anonymous bool           `yaml:"anonymous"`
				Options   map[string]any `yaml:"options"`
			} `yaml:"sections"`
		}
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
		require.Len(t, out.Sections, 3)
		assert.Equal(t, "loopback", out.Sections[0].Name)
		assert.Equal(t, "lo", out.Sections[0].Options["device"])
		assert.True(t, out.Sections[2].Anonymous)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, Export(&bytes.Buffer{}, p, "toml"))
	})
}

func TestShow(t *testing.T) {
	p, err := ParseBytes("network", []byte(networkText))
	require.NoError(t, err)

	lines := Show(p, "")
	assert.Contains(t, lines, "network.lan=interface")
	assert.Contains(t, lines, "network.lan.dns='1.1.1.1' '9.9.9.9'")
	assert.Contains(t, lines, "network.@rule[0].target='ACCEPT'")

	assert.Equal(t, []string{
		"network.loopback=interface",
		"network.loopback.device='lo'",
		"network.loopback.proto='static'",
		"network.loopback.ipaddr='127.0.0.1'",
	}, Show(p, "loopback"))
}
