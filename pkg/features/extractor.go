// Package features derives lexical and structural feature vectors from raw URL strings.
package features

import (
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"
)

// Base feature names, in vector order.
const (
	URLLength          = "url_length"
	DotCount           = "dot_count"
	HasAt              = "has_at"
	SpecialCharCount   = "special_char_count"
	Entropy            = "entropy"
	SuspiciousKeywords = "suspicious_keywords"
	SubdomainLength    = "subdomain_length"
	IsIP               = "is_ip"
)

// Extended feature names, appended after the base set.
const (
	IsFreeHosting      = "is_free_hosting"
	HasHyphen          = "has_hyphen"
	PublicSuffixLabels = "public_suffix_labels"
)

var (
	baseNames = []string{
		URLLength,
		DotCount,
		HasAt,
		SpecialCharCount,
		Entropy,
		SuspiciousKeywords,
		SubdomainLength,
		IsIP,
	}

	extendedNames = []string{
		IsFreeHosting,
		HasHyphen,
		PublicSuffixLabels,
	}

	specialChars = []string{"%", "-", "=", "&", ";"}

	suspiciousWords = []string{"login", "verify", "secure", "account", "signin"}

	freeHostingProviders = map[string]struct{}{
		"000webhost": {},
		"freehostia": {},
		"neocities":  {},
		"wordpress":  {},
		"blogspot":   {},
		"netlify":    {},
		"weebly":     {},
		"github":     {},
		"weeblysite": {},
	}

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
)

// Vector is a feature vector laid out in the order of Extractor.FeatureNames.
type Vector []float64

// Map returns the name to value view of v. names must come from the
// extractor that produced v.
func (v Vector) Map(names []string) map[string]float64 {
	m := make(map[string]float64, len(names))
	for i, name := range names {
		if i < len(v) {
			m[name] = v[i]
		}
	}
	return m
}

// Extractor converts URL strings to fixed-size feature vectors.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	extended bool
	names    []string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithExtended appends the extended fields (free hosting, hyphen, public suffix depth).
func WithExtended(enabled bool) Option {
	return func(e *Extractor) {
		e.extended = enabled
	}
}

// New creates an Extractor with the given options.
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}

	e.names = append([]string(nil), baseNames...)
	if e.extended {
		e.names = append(e.names, extendedNames...)
	}
	return e
}

// Extended reports whether the extended fields are produced.
func (e *Extractor) Extended() bool {
	return e.extended
}

// FeatureNames returns the names of extracted features in vector order.
func (e *Extractor) FeatureNames() []string {
	return append([]string(nil), e.names...)
}

// Extract converts a URL to a feature vector. Malformed URLs never fail:
// they are treated as having an empty hostname.
func (e *Extractor) Extract(rawURL string) Vector {
	full := strings.ToLower(rawURL)
	host := Hostname(rawURL)

	v := make(Vector, 0, len(e.names))
	v = append(v,
		float64(utf8.RuneCountInString(full)),
		float64(strings.Count(host, ".")),
		boolFloat(strings.Contains(full, "@")),
		float64(countSpecialChars(full)),
		ShannonEntropy(host),
		float64(countKeywords(full)),
		float64(SubdomainLen(host)),
		boolFloat(IsIPv4Pattern(host)),
	)

	if e.extended {
		v = append(v,
			boolFloat(IsFreeHostingProvider(host)),
			boolFloat(strings.Contains(host, "-")),
			float64(publicSuffixLabels(host)),
		)
	}

	return v
}

// ExtractAll extracts vectors for every URL, preserving order.
func (e *Extractor) ExtractAll(urls []string) [][]float64 {
	out := make([][]float64, len(urls))
	for i, u := range urls {
		out[i] = e.Extract(u)
	}
	return out
}

// Hostname returns the lower-cased hostname of rawURL, or "" when the URL
// cannot be parsed or carries no scheme/authority.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// ShannonEntropy returns the base-2 Shannon entropy of the character
// distribution of s. Empty input yields 0.
func ShannonEntropy(s string) float64 {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}

	// Count in first-appearance order so the sum is bit-stable.
	index := make(map[rune]int)
	var counts []int
	for _, r := range s {
		i, ok := index[r]
		if !ok {
			i = len(counts)
			index[r] = i
			counts = append(counts, 0)
		}
		counts[i]++
	}

	var entropy float64
	total := float64(n)
	for _, c := range counts {
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// SubdomainLen sums the lengths of the labels before the registrable domain
// and TLD. Hostnames with fewer than three labels yield 0.
func SubdomainLen(host string) int {
	if host == "" {
		return 0
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return 0
	}

	total := 0
	for _, label := range labels[:len(labels)-2] {
		total += utf8.RuneCountInString(label)
	}
	return total
}

// IsIPv4Pattern reports whether host looks like a dotted quad. Octet ranges
// are not validated.
func IsIPv4Pattern(host string) bool {
	return ipv4Pattern.MatchString(host)
}

// IsFreeHostingProvider reports whether the second-to-last label of host
// names a known free hosting provider.
func IsFreeHostingProvider(host string) bool {
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	_, ok := freeHostingProviders[labels[len(labels)-2]]
	return ok
}

func publicSuffixLabels(host string) int {
	if host == "" || IsIPv4Pattern(host) || strings.Contains(host, ":") {
		return 0
	}
	suffix, _ := publicsuffix.PublicSuffix(strings.Trim(host, "."))
	if suffix == "" {
		return 0
	}
	return strings.Count(suffix, ".") + 1
}

func countSpecialChars(s string) int {
	n := 0
	for _, ch := range specialChars {
		n += strings.Count(s, ch)
	}
	return n
}

func countKeywords(s string) int {
	n := 0
	for _, kw := range suspiciousWords {
		if strings.Contains(s, kw) {
			n++
		}
	}
	return n
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
