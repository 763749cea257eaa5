package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/na-sm/api"
)

func TestParseAddressClassProtocolHost(t *testing.T) {
	p, err := ParseAddress("sm+tcp://12345/0")
	require.NoError(t, err)
	require.Equal(t, api.ParsedAddr{Class: "sm", Protocol: "tcp", Host: "12345/0"}, p)
}

func TestParseAddressNoClass(t *testing.T) {
	p, err := ParseAddress("sm://12345/0")
	require.NoError(t, err)
	require.Equal(t, "", p.Class)
	require.Equal(t, "sm", p.Protocol)
	require.Equal(t, "12345/0", p.Host)
}

func TestParseAddressNoHost(t *testing.T) {
	p, err := ParseAddress("sm://")
	require.NoError(t, err)
	require.Equal(t, "sm", p.Protocol)
	require.Equal(t, "", p.Host)
}

func TestParseAddressNoSeparator(t *testing.T) {
	p, err := ParseAddress("sm")
	require.NoError(t, err)
	require.Equal(t, "sm", p.Protocol)
	require.Equal(t, "", p.Host)
}

func TestParseAddressMalformedSeparator(t *testing.T) {
	_, err := ParseAddress("sm:/host")
	require.ErrorIs(t, err, api.ErrProtoNotSupported)
}

func TestParseAddressEmptyClassPrefix(t *testing.T) {
	_, err := ParseAddress("+sm://host")
	require.Error(t, err)
}

func entry(name string, match func(string) bool) api.PluginEntry {
	return api.PluginEntry{
		Name:                name,
		PrependClassPrefix:  true,
		CheckProtocol:       match,
		Initialize: func(info api.ParsedAddr, listen bool, progress api.ProgressMode) (api.Engine, error) {
			return nil, nil
		},
	}
}

func TestInitializeFirstMatchWinsWhenClassAbsent(t *testing.T) {
	var called string
	table := []api.PluginEntry{
		entry("a", func(p string) bool { called = "a"; return true }),
		entry("b", func(p string) bool { called = "b"; return true }),
	}
	c, err := Initialize(table, "tcp://host", false, 0)
	require.NoError(t, err)
	require.Equal(t, "a", c.Entry.Name)
	require.Equal(t, "a", called)
}

func TestInitializeExplicitClassMismatchFails(t *testing.T) {
	table := []api.PluginEntry{
		entry("a", func(p string) bool { return false }),
	}
	_, err := Initialize(table, "a+tcp://host", false, 0)
	require.ErrorIs(t, err, api.ErrProtoNotSupported)
}

func TestInitializeNoMatchFails(t *testing.T) {
	table := []api.PluginEntry{
		entry("a", func(p string) bool { return false }),
		entry("b", func(p string) bool { return false }),
	}
	_, err := Initialize(table, "tcp://host", false, 0)
	require.ErrorIs(t, err, api.ErrProtoNotSupported)
}
