// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package discovery finds and advertises WebSocket BLE bridges over mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service advertised by jkstat bridges
	ServiceType = "_jkbms._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultTimeout bounds a browse when none is given
	DefaultTimeout = 5 * time.Second

	// DefaultPath is the WebSocket path when the TXT record has none
	DefaultPath = "/ws"
)

// Bridge is a discovered WebSocket bridge
type Bridge struct {
	Instance string
	Host     string
	IP       string
	Port     int
	Path     string
	TLS      bool
	Serial   string
	Metadata map[string]string
}

// URL returns the WebSocket URL of the bridge
func (b *Bridge) URL() string {
	scheme := "ws"
	if b.TLS {
		scheme = "wss"
	}
	host := b.IP
	if host == "" {
		host = strings.TrimSuffix(b.Host, ".")
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(b.Port)), b.Path)
}

// Browse collects bridges until the timeout expires or ctx is cancelled.
// Empty service or domain fall back to ServiceType and ServiceDomain.
func Browse(ctx context.Context, service, domain string, timeout time.Duration) ([]*Bridge, error) {
	if service == "" {
		service = ServiceType
	}
	if domain == "" {
		domain = ServiceDomain
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu      sync.Mutex
		bridges []*Bridge
		seen    = make(map[string]bool)
		done    = make(chan struct{})
	)

	go func() {
		defer close(done)
		for entry := range entries {
			b := parseServiceEntry(entry)
			if b == nil {
				continue
			}
			mu.Lock()
			if !seen[b.Instance] {
				seen[b.Instance] = true
				bridges = append(bridges, b)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once ctx ends.
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Bridge(nil), bridges...), nil
}

// Advertisement is a running mDNS registration
type Advertisement struct {
	server *zeroconf.Server
}

// Register advertises a bridge on port with the given TXT records
func Register(instance string, port int, txt map[string]string) (*Advertisement, error) {
	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, k+"="+v)
	}
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, records, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// parseServiceEntry converts a zeroconf entry to a Bridge.
// Returns nil if the entry has no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Bridge {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" && entry.HostName == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	path := metadata["path"]
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &Bridge{
		Instance: entry.Instance,
		Host:     entry.HostName,
		IP:       ip,
		Port:     entry.Port,
		Path:     path,
		TLS:      metadata["tls"] == "1" || metadata["tls"] == "true",
		Serial:   metadata["serial"],
		Metadata: metadata,
	}
}
