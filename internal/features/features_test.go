package features

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractOrderMatchesNames(t *testing.T) {
	v := Extract("https://www.example.com/a/b?c=d")
	assert.Equal(t, Names(), v.Names())
	assert.Len(t, v, len(Names()))
}

func TestExtractIsTotal(t *testing.T) {
	inputs := []string{
		"",
		"not a url",
		"example.com/login",
		"http://",
		"://missing-scheme",
		"http://[::1",
		"http://%zz",
		"https://例子.测试/路径",
		strings.Repeat("a", 5000),
		"http://192.168.0.1:8080/admin",
		"javascript:alert(1)",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			v := Extract(in)
			require.Len(t, v, len(Names()))
			assert.Equal(t, Names(), v.Names())
		})
	}
}

func TestExtractDeterministic(t *testing.T) {
	u := "http://paypa1-secure-login.tk/update?acct=1&x=%20"
	assert.Equal(t, Extract(u), Extract(u))
}

func TestExtractValues(t *testing.T) {
	v := Extract("http://paypa1-secure-login.tk/update").Map()

	assert.Equal(t, 36.0, v[URLLength])
	assert.Equal(t, 22.0, v[HostLength])
	assert.Equal(t, 7.0, v[PathLength])
	assert.Equal(t, 2.0, v[NumHyphens])
	assert.Equal(t, 1.0, v[NumDots])
	assert.Equal(t, 3.0, v[NumSlashes])
	assert.Equal(t, 1.0, v[NumDigits])
	assert.Equal(t, 0.0, v[HasHTTPS])
	assert.Equal(t, 0.0, v[HasIPHost])
	assert.Equal(t, 1.0, v[SuspiciousTLD])
	assert.Equal(t, 2.0, v[TLDLength])
	assert.Equal(t, 0.0, v[NumSubdomains])
	assert.Equal(t, 1.0, v[PathDepth])
	// secure, login, update
	assert.Equal(t, 3.0, v[NumSuspiciousTokens])
	assert.Equal(t, 0.0, v[DoubleSlashRedirect])
}

func TestExtractHostFeatures(t *testing.T) {
	tests := []struct {
		name string
		url  string
		key  string
		want float64
	}{
		{"https", "https://example.com", HasHTTPS, 1},
		{"subdomains", "https://a.b.example.co.uk/", NumSubdomains, 2},
		{"co.uk suffix", "https://a.b.example.co.uk/", TLDLength, 5},
		{"ip host", "http://10.0.0.1/login", HasIPHost, 1},
		{"ip host has no subdomains", "http://10.0.0.1/login", NumSubdomains, 0},
		{"ipv6 host", "http://[2001:db8::1]/", HasIPHost, 1},
		{"port", "http://example.com:8443/", HasPort, 1},
		{"no port", "http://example.com/", HasPort, 0},
		{"shortener", "https://bit.ly/abc", ShortenerHost, 1},
		{"not shortener", "https://example.com/abc", ShortenerHost, 0},
		{"brand on own domain", "https://www.paypal.com/signin", BrandMismatch, 0},
		{"brand elsewhere", "https://paypal.com.evil.example/", BrandMismatch, 1},
		{"redirect", "http://example.com//http://evil.example", DoubleSlashRedirect, 1},
		{"missing scheme has no host", "example.com/login", HostLength, 0},
		{"missing scheme still counts", "example.com/login", NumSlashes, 1},
		{"at sign", "http://user@example.com", NumAt, 1},
		{"safe tld", "https://example.com", SuspiciousTLD, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.url).Get(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, entropy(""))
	assert.Equal(t, 0.0, entropy("aaaa"))
	assert.InDelta(t, 1.0, entropy("abab"), 1e-12)
	assert.InDelta(t, 2.0, entropy("abcd"), 1e-12)
}

func TestListsLoaded(t *testing.T) {
	for name, n := range ListCounts() {
		assert.Positive(t, n, name)
	}
}

func TestVectorHelpers(t *testing.T) {
	v := Vector{{Name: "a", Value: 1}, {Name: "b", Value: 2}}
	got, ok := v.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2.0, got)
	_, ok = v.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, map[string]float64{"a": 1, "b": 2}, v.Map())
}
