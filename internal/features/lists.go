package features

import (
	"bufio"
	"embed"
	"strings"
)

//go:embed data/*.txt
var listData embed.FS

// Word lists backing the lexical features, loaded once at init.
var (
	suspiciousTLDs   map[string]struct{}
	suspiciousTokens []string // lowercase substrings
	brands           []string
	shorteners       map[string]struct{}
)

func init() {
	suspiciousTLDs = toSet(loadStringFile("data/suspicious_tlds.txt"))
	suspiciousTokens = loadStringFile("data/suspicious_tokens.txt")
	brands = loadStringFile("data/brands.txt")
	shorteners = toSet(loadStringFile("data/shorteners.txt"))
}

// loadStringFile reads a file of plain lowercase entries (one per line,
// # comments).
func loadStringFile(name string) []string {
	f, err := listData.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.ToLower(line))
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

// ListCounts returns the number of loaded entries per list for logging.
func ListCounts() map[string]int {
	return map[string]int{
		"suspicious_tlds":   len(suspiciousTLDs),
		"suspicious_tokens": len(suspiciousTokens),
		"brands":            len(brands),
		"shorteners":        len(shorteners),
	}
}
