// Package features turns a URL string into the fixed, named numeric vector the
// tabular classifier was trained on.
//
// Extract is total: it never fails, and features that cannot be computed for a
// malformed URL (no scheme, no host, unparsable) are reported as zero. The
// names and their order are part of the model contract; changing either
// requires a new SchemaVersion and retrained weights.
package features

import (
	"math"
	"net"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"
)

// SchemaVersion identifies the feature set and order returned by Names.
const SchemaVersion = "features/v1"

// Feature names, in contract order.
const (
	URLLength           = "url_length"
	HostLength          = "host_length"
	PathLength          = "path_length"
	QueryLength         = "query_length"
	NumDots             = "num_dots"
	NumHyphens          = "num_hyphens"
	NumUnderscores      = "num_underscores"
	NumSlashes          = "num_slashes"
	NumAt               = "num_at"
	NumQuestion         = "num_question"
	NumEquals           = "num_equals"
	NumAmpersand        = "num_ampersand"
	NumPercent          = "num_percent"
	NumDigits           = "num_digits"
	DigitRatio          = "digit_ratio"
	HasHTTPS            = "has_https"
	HasIPHost           = "has_ip_host"
	HasPort             = "has_port"
	NumSubdomains       = "num_subdomains"
	TLDLength           = "tld_length"
	SuspiciousTLD       = "suspicious_tld"
	NumSuspiciousTokens = "num_suspicious_tokens"
	BrandMismatch       = "brand_mismatch"
	PathDepth           = "path_depth"
	DoubleSlashRedirect = "double_slash_redirect"
	ShortenerHost       = "shortener_host"
	URLEntropy          = "url_entropy"
)

var names = []string{
	URLLength, HostLength, PathLength, QueryLength,
	NumDots, NumHyphens, NumUnderscores, NumSlashes, NumAt,
	NumQuestion, NumEquals, NumAmpersand, NumPercent, NumDigits,
	DigitRatio, HasHTTPS, HasIPHost, HasPort, NumSubdomains,
	TLDLength, SuspiciousTLD, NumSuspiciousTokens, BrandMismatch,
	PathDepth, DoubleSlashRedirect, ShortenerHost, URLEntropy,
}

// Names returns a copy of the feature names in contract order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Feature is a single named value.
type Feature struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value" yaml:"value"`
}

// Vector is an ordered list of features.
type Vector []Feature

// Get returns the value for name.
func (v Vector) Get(name string) (float64, bool) {
	for _, f := range v {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Names returns the feature names in vector order.
func (v Vector) Names() []string {
	out := make([]string, len(v))
	for i, f := range v {
		out[i] = f.Name
	}
	return out
}

// Map returns the vector as a name → value map.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v))
	for _, f := range v {
		m[f.Name] = f.Value
	}
	return m
}

// urlParts holds the pieces of a URL the host/path features need. Zero values
// mean "could not be computed".
type urlParts struct {
	scheme string
	host   string // lowercase, no port, no trailing dot
	port   string
	path   string
	query  string
}

func split(raw string) urlParts {
	u, err := url.Parse(raw)
	if err != nil {
		return urlParts{}
	}
	return urlParts{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.TrimSuffix(strings.ToLower(u.Hostname()), "."),
		port:   u.Port(),
		path:   u.EscapedPath(),
		query:  u.RawQuery,
	}
}

// Extract computes the feature vector for raw. It is deterministic and never
// fails.
func Extract(raw string) Vector {
	p := split(raw)
	lower := strings.ToLower(raw)
	length := utf8.RuneCountInString(raw)

	var digits int
	for _, r := range raw {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	digitRatio := 0.0
	if length > 0 {
		digitRatio = float64(digits) / float64(length)
	}

	isIP := p.host != "" && net.ParseIP(p.host) != nil
	registered := registrableDomain(p.host, isIP)

	v := make(Vector, 0, len(names))
	add := func(name string, value float64) {
		v = append(v, Feature{Name: name, Value: value})
	}

	add(URLLength, float64(length))
	add(HostLength, float64(len(p.host)))
	add(PathLength, float64(len(p.path)))
	add(QueryLength, float64(len(p.query)))
	add(NumDots, count(raw, "."))
	add(NumHyphens, count(raw, "-"))
	add(NumUnderscores, count(raw, "_"))
	add(NumSlashes, count(raw, "/"))
	add(NumAt, count(raw, "@"))
	add(NumQuestion, count(raw, "?"))
	add(NumEquals, count(raw, "="))
	add(NumAmpersand, count(raw, "&"))
	add(NumPercent, count(raw, "%"))
	add(NumDigits, float64(digits))
	add(DigitRatio, digitRatio)
	add(HasHTTPS, boolf(p.scheme == "https"))
	add(HasIPHost, boolf(isIP))
	add(HasPort, boolf(p.port != ""))
	add(NumSubdomains, float64(subdomainCount(p.host, registered)))
	add(TLDLength, float64(len(publicSuffix(p.host, isIP))))
	add(SuspiciousTLD, boolf(hasSuspiciousTLD(p.host, isIP)))
	add(NumSuspiciousTokens, float64(tokenHits(lower)))
	add(BrandMismatch, boolf(brandMismatch(lower, registered)))
	add(PathDepth, float64(pathDepth(p.path)))
	add(DoubleSlashRedirect, boolf(strings.LastIndex(raw, "//") > 7))
	add(ShortenerHost, boolf(isShortener(p.host, registered)))
	add(URLEntropy, entropy(raw))
	return v
}

func count(s, sub string) float64 {
	return float64(strings.Count(s, sub))
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// registrableDomain returns eTLD+1 for host, or "" for IPs and hosts that are
// themselves public suffixes.
func registrableDomain(host string, isIP bool) string {
	if host == "" || isIP {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return d
}

func publicSuffix(host string, isIP bool) string {
	if host == "" || isIP {
		return ""
	}
	s, _ := publicsuffix.PublicSuffix(host)
	return s
}

func subdomainCount(host, registered string) int {
	if registered == "" || len(host) <= len(registered) {
		return 0
	}
	prefix := strings.TrimSuffix(host[:len(host)-len(registered)], ".")
	if prefix == "" {
		return 0
	}
	return strings.Count(prefix, ".") + 1
}

func hasSuspiciousTLD(host string, isIP bool) bool {
	if host == "" || isIP {
		return false
	}
	tld := host
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		tld = host[i+1:]
	}
	_, ok := suspiciousTLDs[tld]
	return ok
}

func tokenHits(lower string) int {
	hits := 0
	for _, tok := range suspiciousTokens {
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return hits
}

// brandMismatch reports whether a known brand name appears in the URL while
// the registrable domain label is something else.
func brandMismatch(lower, registered string) bool {
	label := registered
	if i := strings.IndexByte(registered, '.'); i >= 0 {
		label = registered[:i]
	}
	for _, b := range brands {
		if strings.Contains(lower, b) && label != b {
			return true
		}
	}
	return false
}

func pathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func isShortener(host, registered string) bool {
	if host == "" {
		return false
	}
	if _, ok := shorteners[host]; ok {
		return true
	}
	_, ok := shorteners[registered]
	return ok
}

// entropy is the Shannon entropy of s in bits per character.
func entropy(s string) float64 {
	if s == "" {
		return 0
	}
	// Counts are summed in first-seen order so the float result is stable.
	index := make(map[rune]int)
	var counts []int
	n := 0
	for _, r := range s {
		i, ok := index[r]
		if !ok {
			i = len(counts)
			index[r] = i
			counts = append(counts, 0)
		}
		counts[i]++
		n++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}
