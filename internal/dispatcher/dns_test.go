package dispatcher

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	mu    sync.Mutex
	byHost map[string][]net.IP
	err   map[string]error
}

func newMockResolver() *mockResolver {
	return &mockResolver{byHost: map[string][]net.IP{}, err: map[string]error{}}
}

func (m *mockResolver) set(host string, ips ...net.IP) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHost[host] = ips
	delete(m.err, host)
}

func (m *mockResolver) fail(host string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err[host] = err
}

func (m *mockResolver) LookupIPs(_ context.Context, host string) ([]net.IP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.err[host]; ok {
		return nil, err
	}
	return m.byHost[host], nil
}

func TestDNSCacheRoundRobin(t *testing.T) {
	ip1 := net.ParseIP("192.168.1.1")
	ip2 := net.ParseIP("192.168.1.2")
	r := newMockResolver()
	r.set("example.com", ip1, ip2)

	c := NewDNSCache(r, time.Minute)
	a, err := c.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	b, err := c.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.True(t, a.Equal(ip1))
	assert.True(t, b.Equal(ip2))

	third, err := c.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.True(t, third.Equal(ip1))
}

func TestDNSCacheErrorBackoff(t *testing.T) {
	r := newMockResolver()
	r.fail("broken.com", fmt.Errorf("boom"))

	c := NewDNSCache(r, time.Minute)
	_, err := c.Resolve(context.Background(), "broken.com")
	require.Error(t, err)

	// recovers, but backoff window hasn't elapsed yet
	r.set("broken.com", net.ParseIP("10.0.0.1"))
	_, err = c.Resolve(context.Background(), "broken.com")
	require.Error(t, err)
}

func TestDNSCacheEmptyRefreshIsError(t *testing.T) {
	r := newMockResolver()
	r.set("empty.com")

	c := NewDNSCache(r, time.Minute)
	_, err := c.Resolve(context.Background(), "empty.com")
	require.Error(t, err)
}
