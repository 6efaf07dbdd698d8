// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance, host string, port int, ips []net.IP, txt ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		HostName: host,
		Port:     port,
		AddrIPv4: ips,
		Text:     txt,
	}
	e.Instance = instance
	return e
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   *zeroconf.ServiceEntry
		wantNil bool
		wantURL string
		serial  string
	}{
		{
			name:    "plain bridge",
			entry:   entry("garage", "bridge.local.", 8080, []net.IP{net.ParseIP("192.168.4.16")}, "serial=3070512345"),
			wantURL: "ws://192.168.4.16:8080/ws",
			serial:  "3070512345",
		},
		{
			name:    "tls with custom path",
			entry:   entry("boat", "boat.local.", 443, []net.IP{net.ParseIP("10.0.0.5")}, "tls=1", "path=bms"),
			wantURL: "wss://10.0.0.5:443/bms",
		},
		{
			name:    "hostname only",
			entry:   entry("van", "van.local.", 9000, nil),
			wantURL: "ws://van.local:9000/ws",
		},
		{
			name:    "no port",
			entry:   entry("x", "x.local.", 0, []net.IP{net.ParseIP("10.0.0.1")}),
			wantNil: true,
		},
		{
			name:    "no address",
			entry:   entry("x", "", 80, nil),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := parseServiceEntry(tt.entry)
			if tt.wantNil {
				assert.Nil(t, b)
				return
			}
			require.NotNil(t, b)
			assert.Equal(t, tt.wantURL, b.URL())
			assert.Equal(t, tt.serial, b.Serial)
			assert.Equal(t, tt.entry.Instance, b.Instance)
		})
	}
}

func TestParseServiceEntry_IPv6(t *testing.T) {
	e := entry("v6", "v6.local.", 8080, nil)
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	b := parseServiceEntry(e)
	require.NotNil(t, b)
	assert.Equal(t, "ws://[fe80::1]:8080/ws", b.URL())
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	b := parseServiceEntry(entry("m", "m.local.", 1, []net.IP{net.ParseIP("10.1.1.1")}, "flag", "k=v=w"))
	require.NotNil(t, b)
	assert.Equal(t, "", b.Metadata["flag"])
	assert.Equal(t, "v=w", b.Metadata["k"])
	assert.False(t, b.TLS)
}

func TestParseServiceEntry_Nil(t *testing.T) {
	assert.Nil(t, parseServiceEntry(nil))
}
