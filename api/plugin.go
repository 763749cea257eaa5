// File: api/plugin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ParsedAddr and PluginEntry are the boundary contract of the plugin
// dispatch layer (spec.md §4.1/§4.2). The address-string parser itself
// lives in package plugin; its output type is declared here so both the
// dispatch table and individual plugins (package sm) can share it without
// an import cycle.

package api

// ParsedAddr is the triple produced by parsing `[<class>+]<protocol>[://[<host>]]`.
type ParsedAddr struct {
	Class    string // empty if unset
	Protocol string
	Host     string // empty if unset (including a bare "://")
}

// PluginEntry is one row of the static, order-significant plugin table
// (spec.md §4.2). PrependClassPrefix resolves the open question of Design
// Notes §9: whether Addr.String() prepends "<class>+" to its output.
type PluginEntry struct {
	Name                string
	PrependClassPrefix  bool
	CheckProtocol       func(protocol string) bool
	Initialize          func(info ParsedAddr, listen bool, progress ProgressMode) (Engine, error)
}
