package netguard

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBlocked(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.20.0.5", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"2606:4700:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.blocked, IsBlocked(net.ParseIP(tt.ip)))
		})
	}
}

func TestDialRejectsPrivateLiteral(t *testing.T) {
	g := New(false)
	_, err := g.DialContext(context.Background(), "tcp", "127.0.0.1:80")
	var be *BlockedError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "127.0.0.1", be.IP.String())
}

func TestDialAllowsPrivateWhenConfigured(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	g := New(true)
	conn, err := g.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestTrustedHost(t *testing.T) {
	g := New(false, "model-store")
	assert.True(t, g.IsTrustedHost("model-store:443"))
	assert.True(t, g.IsTrustedHost("MODEL-STORE"))
	assert.False(t, g.IsTrustedHost("example.com:443"))
}

func TestDialRejectsBadAddress(t *testing.T) {
	_, err := New(false).DialContext(context.Background(), "tcp", "no-port")
	assert.Error(t, err)
}
