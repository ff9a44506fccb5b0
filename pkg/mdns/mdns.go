// Package mdns announces the camera service on the local network so
// viewers can find it without configuration.
package mdns

import (
	"net"

	"github.com/hashicorp/mdns"
)

const Service = "_uvcam._tcp"

func NewServer(name string, port int, ips []net.IP, txt []string) (*mdns.Server, error) {
	if len(ips) == 0 {
		ips = LocalIPs()
	}

	// hostName must be set manually with a `.local.` tail, same for ips,
	// or the library falls back to hostname guessing
	service, err := mdns.NewMDNSService(
		name, Service, "", name+".local.", port, ips, txt,
	)
	if err != nil {
		return nil, err
	}

	return mdns.NewServer(&mdns.Config{Zone: service})
}

func LocalIPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue // interface down
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue // loopback interface
		}

		var addrs []net.Addr
		if addrs, err = iface.Addrs(); err != nil {
			continue
		}
		for _, addr := range addrs {
			switch addr := addr.(type) {
			case *net.IPNet:
				ips = append(ips, addr.IP)
			case *net.IPAddr:
				ips = append(ips, addr.IP)
			}
		}
	}
	return ips
}
