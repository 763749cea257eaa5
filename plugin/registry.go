// File: plugin/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The static, order-significant plugin table and the Initialize dispatch of
// spec.md §4.2. Grounded on the teacher's internal/transport/transport.go
// TransportFactory.Create, which already walks a small ordered set of
// candidate implementations and falls back through them; here the walk is
// driven by protocol/class matching instead of runtime feature detection.

package plugin

import "github.com/momentics/na-sm/api"

// Class is a per-process, per-initialization plugin instance: the selected
// table entry plus the engine it produced. Immutable after Initialize
// returns (spec.md §3).
type Class struct {
	Entry  api.PluginEntry
	Engine api.Engine
}

// Initialize implements spec.md §4.2: parse info, walk table in order,
// honor an explicit class, and adopt the first matching plugin otherwise.
func Initialize(table []api.PluginEntry, info string, listen bool, progress api.ProgressMode) (*Class, error) {
	parsed, err := ParseAddress(info)
	if err != nil {
		return nil, err
	}

	var selected *api.PluginEntry
	for i := range table {
		entry := &table[i]
		if parsed.Class != "" && parsed.Class != entry.Name {
			continue
		}
		if !entry.CheckProtocol(parsed.Protocol) {
			if parsed.Class != "" {
				// Class was pinned explicitly and rejected the protocol:
				// fail now rather than trying other table entries.
				return nil, api.ErrProtoNotSupported
			}
			continue
		}
		selected = entry
		break
	}
	if selected == nil {
		return nil, api.ErrProtoNotSupported
	}

	engine, err := selected.Initialize(parsed, listen, progress)
	if err != nil {
		return nil, err
	}
	return &Class{Entry: *selected, Engine: engine}, nil
}

// Finalize tears down the class's engine (spec.md §4.2).
func (c *Class) Finalize() error {
	return c.Engine.Finalize()
}

// String renders the class's self address using the entry's prefix policy.
func (c *Class) String(host string) string {
	return Format(c.Entry, c.Engine.Protocol(), host)
}
