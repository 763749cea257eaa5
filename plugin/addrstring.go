// File: plugin/addrstring.go
// Package plugin implements the address-string parser and dispatch table of
// spec.md §4.1/§4.2.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ParseAddress accepts `[<class>+]<protocol>[://[<host>]]`. The string is
// parsed once at lookup/initialize time and the parsed triple is not
// retained by the caller (spec.md §3).

package plugin

import (
	"strings"

	"github.com/momentics/na-sm/api"
)

// ParseAddress splits info into the (class?, protocol, host?) triple.
// A missing class is permitted; "://" with no host is permitted; any other
// malformed prefix fails with api.ErrProtoNotSupported.
func ParseAddress(info string) (api.ParsedAddr, error) {
	if info == "" {
		return api.ParsedAddr{}, api.NewError(api.ErrCodeInvalidArg, "empty address string")
	}

	rest := info
	var class string
	if idx := strings.Index(rest, "+"); idx >= 0 {
		class = rest[:idx]
		rest = rest[idx+1:]
		if class == "" {
			return api.ParsedAddr{}, api.NewError(api.ErrCodeProtoNotSupported, "empty class before '+'")
		}
	}

	protocol := rest
	host := ""
	if idx := strings.Index(rest, "://"); idx >= 0 {
		protocol = rest[:idx]
		host = rest[idx+3:]
	} else if strings.Contains(rest, ":/") || strings.Contains(rest, "//") {
		// A near-miss separator (single slash, or "//" without a leading
		// colon) is malformed: spec.md §4.1 only defines "://".
		return api.ParsedAddr{}, api.ErrProtoNotSupported
	}

	if protocol == "" {
		return api.ParsedAddr{}, api.ErrProtoNotSupported
	}

	return api.ParsedAddr{Class: class, Protocol: protocol, Host: host}, nil
}

// Format renders addr back to string form, honoring entry.PrependClassPrefix
// (Design Notes §9: the MPI-special-case is generalized into this flag).
func Format(entry api.PluginEntry, protocol, host string) string {
	var b strings.Builder
	if entry.PrependClassPrefix {
		b.WriteString(entry.Name)
		b.WriteByte('+')
	}
	b.WriteString(protocol)
	b.WriteString("://")
	b.WriteString(host)
	return b.String()
}
