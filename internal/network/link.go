// Package network waits for the device's network link before the cloud
// session starts. Joining the wireless network is the OS's job (wpa_supplicant,
// NetworkManager); this package only observes the result.
package network

import (
	"fmt"
	"net"
	"strings"
)

// Status is a point-in-time view of the link.
type Status struct {
	Up        bool
	Interface string
	IP        net.IP
}

// Link reports connectivity. Implementations must not block for long.
type Link interface {
	Status() (Status, error)
}

// InterfaceLink treats the link as up once the named interface is up and has
// an IPv4 address. An empty Name accepts any physical, non-loopback interface.
type InterfaceLink struct {
	Name string

	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

func NewInterfaceLink(name string) *InterfaceLink {
	return &InterfaceLink{
		Name:       name,
		interfaces: net.Interfaces,
		addrs:      func(itf net.Interface) ([]net.Addr, error) { return itf.Addrs() },
	}
}

func (l *InterfaceLink) Status() (Status, error) {
	itfs, err := l.interfaces()
	if err != nil {
		return Status{}, fmt.Errorf("list interfaces: %w", err)
	}

	for _, itf := range itfs {
		switch {
		case l.Name != "" && itf.Name != l.Name:
			continue
		case itf.Flags&net.FlagUp != net.FlagUp:
			continue
		case itf.Flags&net.FlagLoopback == net.FlagLoopback:
			continue
		case l.Name == "" && strings.Contains(itf.Name, "docker"):
			continue
		}

		addrs, err := l.addrs(itf)
		if err != nil {
			return Status{}, fmt.Errorf("addresses of %s: %w", itf.Name, err)
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			if ipv4 := ip.To4(); ipv4 != nil {
				return Status{Up: true, Interface: itf.Name, IP: ipv4}, nil
			}
		}
	}
	return Status{Interface: l.Name}, nil
}
