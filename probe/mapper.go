// Package probe measures the port allocation behavior of a real gateway
// through UPnP or NAT-PMP, so the simulator's NAT model can be checked
// against the device it is supposed to represent.
package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// PortMapper requests and releases port mappings on a gateway. MapPort
// returns the external port the gateway granted, which is the observable the
// probe cares about. UnmapPort takes both sides of the mapping because the
// two protocols key deletion differently: UPnP deletes by external port,
// NAT-PMP by internal port, and the granted external port rarely equals the
// internal one here.
type PortMapper interface {
	MapPort(protocol string, internalPort int, lease time.Duration) (int, error)
	UnmapPort(protocol string, internalPort, externalPort int) error
	GetExternalIP() (string, error)
}

// Discover finds a usable port mapper, trying UPnP first, then NAT-PMP. The
// context bounds the discovery, which can take several seconds on a quiet
// network.
func Discover(ctx context.Context) (PortMapper, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	upnp, err := NewUPnPMapper(ctx)
	if err == nil {
		return upnp, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled after UPnP attempt: %w", err)
	}

	pmp, err := NewNATPMPMapper()
	if err != nil {
		return nil, fmt.Errorf("no gateway control available: UPnP failed, NAT-PMP failed: %w", err)
	}
	return pmp, nil
}

// upnpClient is satisfied by WANIPConnection1, WANIPConnection2 and
// WANPPPConnection1 service clients.
type upnpClient interface {
	AddPortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error
	DeletePortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
	) error
	GetExternalIPAddress() (string, error)
}

// UPnPMapper drives a UPnP IGD service.
type UPnPMapper struct {
	client upnpClient
}

// NewUPnPMapper discovers a UPnP gateway, preferring the newest service
// variant that responds: WANIPConnection2, then WANIPConnection1, then
// WANPPPConnection1.
func NewUPnPMapper(ctx context.Context) (*UPnPMapper, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	if clients, _, err := internetgateway2.NewWANIPConnection2ClientsCtx(ctx); err == nil && len(clients) > 0 {
		return &UPnPMapper{client: clients[0]}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled during discovery: %w", err)
	}
	if clients, _, err := internetgateway2.NewWANIPConnection1ClientsCtx(ctx); err == nil && len(clients) > 0 {
		return &UPnPMapper{client: clients[0]}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled during discovery: %w", err)
	}
	if clients, _, err := internetgateway2.NewWANPPPConnection1ClientsCtx(ctx); err == nil && len(clients) > 0 {
		return &UPnPMapper{client: clients[0]}, nil
	}

	return nil, fmt.Errorf("no UPnP IGD devices found (tried WANIPConnection2, WANIPConnection1, WANPPPConnection1)")
}

// MapPort creates a mapping with the external port equal to the internal
// one, which is the only request form all IGD variants accept. A gateway
// that grants it verbatim is port-preserving for this protocol.
func (u *UPnPMapper) MapPort(protocol string, internalPort int, lease time.Duration) (int, error) {
	if internalPort < 1 || internalPort > 65535 {
		return 0, fmt.Errorf("invalid port number: %d (must be 1-65535)", internalPort)
	}

	localIP, err := localIPv4()
	if err != nil {
		return 0, fmt.Errorf("failed to get local IP: %w", err)
	}

	err = u.client.AddPortMapping(
		"",
		uint16(internalPort),
		strings.ToUpper(protocol),
		uint16(internalPort),
		localIP,
		true,
		"natsim probe",
		uint32(lease.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("UPnP port mapping failed: %w", err)
	}
	return internalPort, nil
}

// UnmapPort removes a mapping created by MapPort. UPnP keys deletion on the
// external port; the internal port is ignored.
func (u *UPnPMapper) UnmapPort(protocol string, internalPort, externalPort int) error {
	if externalPort < 1 || externalPort > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", externalPort)
	}
	if err := u.client.DeletePortMapping("", uint16(externalPort), strings.ToUpper(protocol)); err != nil {
		return fmt.Errorf("UPnP port unmapping failed: %w", err)
	}
	return nil
}

// GetExternalIP returns the gateway's external address.
func (u *UPnPMapper) GetExternalIP() (string, error) {
	ip, err := u.client.GetExternalIPAddress()
	if err != nil {
		return "", fmt.Errorf("UPnP external IP lookup failed: %w", err)
	}
	return ip, nil
}

// natpmpClient is the subset of the NAT-PMP client the mapper uses.
type natpmpClient interface {
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
}

// NATPMPMapper drives a NAT-PMP gateway.
type NATPMPMapper struct {
	client natpmpClient
}

// NewNATPMPMapper locates the default gateway and verifies it speaks
// NAT-PMP.
func NewNATPMPMapper() (*NATPMPMapper, error) {
	gateway, err := discoverGateway()
	if err != nil {
		return nil, fmt.Errorf("NAT-PMP gateway discovery failed: %w", err)
	}

	client := natpmp.NewClient(gateway)
	if _, err := client.GetExternalAddress(); err != nil {
		return nil, fmt.Errorf("NAT-PMP connectivity test failed: %w", err)
	}
	return &NATPMPMapper{client: client}, nil
}

// MapPort requests a mapping with suggested external port zero, letting the
// gateway pick. The granted port exposes the allocation policy directly.
func (n *NATPMPMapper) MapPort(protocol string, internalPort int, lease time.Duration) (int, error) {
	if internalPort < 1 || internalPort > 65535 {
		return 0, fmt.Errorf("invalid port number: %d (must be 1-65535)", internalPort)
	}
	proto := strings.ToLower(protocol)
	if proto != "tcp" && proto != "udp" {
		return 0, fmt.Errorf("unsupported protocol: %s", protocol)
	}

	result, err := n.client.AddPortMapping(proto, internalPort, 0, int(lease.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("NAT-PMP port mapping failed: %w", err)
	}
	return int(result.MappedExternalPort), nil
}

// UnmapPort releases a mapping. NAT-PMP expresses removal as a zero-lifetime
// mapping request keyed on the internal port; the granted external port plays
// no role in deletion.
func (n *NATPMPMapper) UnmapPort(protocol string, internalPort, externalPort int) error {
	if internalPort < 1 || internalPort > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", internalPort)
	}
	proto := strings.ToLower(protocol)
	if proto != "tcp" && proto != "udp" {
		return fmt.Errorf("unsupported protocol: %s", protocol)
	}
	if _, err := n.client.AddPortMapping(proto, internalPort, 0, 0); err != nil {
		return fmt.Errorf("NAT-PMP port unmapping failed: %w", err)
	}
	return nil
}

// GetExternalIP returns the gateway's external address.
func (n *NATPMPMapper) GetExternalIP() (string, error) {
	result, err := n.client.GetExternalAddress()
	if err != nil {
		return "", fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}
	ip := net.IPv4(result.ExternalIPAddress[0], result.ExternalIPAddress[1],
		result.ExternalIPAddress[2], result.ExternalIPAddress[3])
	return ip.String(), nil
}

// localIPv4 determines the local address the default route would use. No
// packets are sent.
func localIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type: %T", conn.LocalAddr())
	}
	return localAddr.IP.String(), nil
}
