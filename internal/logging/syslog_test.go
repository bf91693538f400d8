package logging

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 514, cfg.Port)
	assert.Equal(t, "udp", cfg.Protocol)
	assert.Equal(t, "luci", cfg.Tag)
	assert.Equal(t, 1, cfg.Facility)
}

func TestNewSyslogWriter_MissingHost(t *testing.T) {
	_, err := NewSyslogWriter(SyslogConfig{Enabled: true})
	assert.Error(t, err)
}

func TestSyslogWriter_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	port := pc.LocalAddr().(*net.UDPAddr).Port
	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Port: port, Facility: 3})
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("committed network"))
	require.NoError(t, err)
	assert.Equal(t, len("committed network"), n)

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	m, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	msg := string(buf[:m])
	// facility 3 * 8 + info(6)
	assert.True(t, strings.HasPrefix(msg, "<30>"), msg)
	assert.Contains(t, msg, " luci: committed network")
}

func TestSyslogWriter_WriteAfterClose(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Port: pc.LocalAddr().(*net.UDPAddr).Port})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.Error(t, err)
}
