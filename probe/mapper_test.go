package probe

import (
	"context"
	"testing"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pmpRequest struct {
	protocol     string
	internalPort int
	externalPort int
	lifetime     int
}

// fakePMPClient records every mapping request and grants external ports from
// a fixed offset, so internal and external ports never coincide.
type fakePMPClient struct {
	requests []pmpRequest
}

func (f *fakePMPClient) AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error) {
	f.requests = append(f.requests, pmpRequest{
		protocol:     protocol,
		internalPort: internalPort,
		externalPort: requestedExternalPort,
		lifetime:     lifetime,
	})
	return &natpmp.AddPortMappingResult{
		InternalPort:       uint16(internalPort),
		MappedExternalPort: uint16(internalPort + 10000),
	}, nil
}

func (f *fakePMPClient) GetExternalAddress() (*natpmp.GetExternalAddressResult, error) {
	return &natpmp.GetExternalAddressResult{ExternalIPAddress: [4]byte{203, 0, 113, 9}}, nil
}

func TestNATPMPMapperMapPort(t *testing.T) {
	client := &fakePMPClient{}
	mapper := &NATPMPMapper{client: client}

	external, err := mapper.MapPort("UDP", 42000, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 52000, external)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "udp", req.protocol, "protocol goes over the wire lowercased")
	assert.Equal(t, 42000, req.internalPort)
	assert.Equal(t, 0, req.externalPort, "gateway picks the external port")
	assert.Equal(t, 60, req.lifetime)
}

func TestNATPMPMapperUnmapKeysOnInternalPort(t *testing.T) {
	client := &fakePMPClient{}
	mapper := &NATPMPMapper{client: client}

	// Deletion is a zero-lifetime request for the internal port. Sending
	// the granted external port instead would leave the mapping in place.
	require.NoError(t, mapper.UnmapPort("udp", 42000, 52000))

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, 42000, req.internalPort)
	assert.Equal(t, 0, req.externalPort)
	assert.Equal(t, 0, req.lifetime)
}

func TestNATPMPMapperRejectsBadInput(t *testing.T) {
	mapper := &NATPMPMapper{client: &fakePMPClient{}}

	_, err := mapper.MapPort("udp", 0, time.Minute)
	require.Error(t, err)

	_, err = mapper.MapPort("icmp", 42000, time.Minute)
	require.Error(t, err)

	require.Error(t, mapper.UnmapPort("udp", 0, 52000))
}

func TestNATPMPMapperExternalIP(t *testing.T) {
	mapper := &NATPMPMapper{client: &fakePMPClient{}}

	ip, err := mapper.GetExternalIP()
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip)
}

func TestProbeReleasesByInternalPortThroughNATPMP(t *testing.T) {
	client := &fakePMPClient{}
	mapper := &NATPMPMapper{client: client}

	res, err := Run(context.Background(), Config{Mapper: mapper, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, BehaviorIncremental, res.Behavior)

	require.Len(t, client.requests, 6, "three mappings plus three deletions")
	for i, req := range client.requests[3:] {
		assert.Equal(t, 42000+i, req.internalPort, "deletion %d keyed on internal port", i)
		assert.Equal(t, 0, req.lifetime)
	}
}
