// File: sm/plugin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Entry wires the shared-memory engine into the plugin dispatch table
// (spec.md §4.2): it is the single PluginEntry the SM class registers under
// the "sm" protocol name.

package sm

import (
	"github.com/momentics/na-sm/api"
	"github.com/momentics/na-sm/control"
)

// Entry returns the SM plugin's dispatch-table row.
func Entry() api.PluginEntry {
	return api.PluginEntry{
		Name:               "sm",
		PrependClassPrefix: true,
		CheckProtocol:      func(protocol string) bool { return protocol == "sm" },
		Initialize:         initialize,
	}
}

func initialize(info api.ParsedAddr, listen bool, progress api.ProgressMode) (api.Engine, error) {
	cfg := control.DefaultSMConfig()
	return NewSmEngine(cfg, listen, progress)
}
