package vary

import (
	"net/http"
	"strings"

	"github.com/roadrunner-server/httpcache/headers"
	"github.com/roadrunner-server/httpcache/record"
)

const star string = "*"

// Match https://datatracker.ietf.org/doc/html/rfc7234#section-4.1
// returns the stored variant selected for the request headers or nil.
func Match(variants []*record.Variant, req http.Header) *record.Variant {
	idx := MatchIndex(variants, req)
	if idx == -1 {
		return nil
	}
	return variants[idx]
}

// MatchIndex returns the index of the selected variant in variants, -1 if nothing matches.
//
// Candidates are evaluated in three groups, each keeping insertion order:
// Vary: * first, then a specific Vary, then no Vary. A variant without Vary
// always matches; a Vary: * variant never does.
func MatchIndex(variants []*record.Variant, req http.Header) int {
	stars := make([]int, 0, 1)
	varies := make([]int, 0, len(variants))
	other := make([]int, 0, len(variants))

	for i := 0; i < len(variants); i++ {
		v := Fields(variants[i].ResponseHeaders)
		switch {
		case len(v) == 0:
			other = append(other, i)
		case isStar(v):
			stars = append(stars, i)
		default:
			varies = append(varies, i)
		}
	}

	sorted := make([]int, 0, len(variants))
	sorted = append(sorted, stars...)
	sorted = append(sorted, varies...)
	sorted = append(sorted, other...)

	for _, i := range sorted {
		if matches(variants[i], req) {
			return i
		}
	}

	return -1
}

// SameNegotiation reports whether two variants were selected by the same
// negotiation: same Vary field list and the same request values for it.
func SameNegotiation(a, b *record.Variant) bool {
	fa := Fields(a.ResponseHeaders)
	fb := Fields(b.ResponseHeaders)

	if len(fa) != len(fb) {
		return false
	}

	if isStar(fa) || isStar(fb) {
		return false
	}

	set := make(map[string]struct{}, len(fa))
	for _, f := range fa {
		set[f] = struct{}{}
	}

	for _, f := range fb {
		if _, ok := set[f]; !ok {
			return false
		}
		if value(a.RequestHeaders, f) != value(b.RequestHeaders, f) {
			return false
		}
	}

	return true
}

// Fields returns the canonical header names listed in the Vary header(s).
func Fields(hdr http.Header) []string {
	values := hdr.Values(headers.Vary)
	if len(values) == 0 {
		return nil
	}

	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == star {
				return []string{star}
			}
			out = append(out, http.CanonicalHeaderKey(name))
		}
	}

	return out
}

func matches(v *record.Variant, req http.Header) bool {
	fields := Fields(v.ResponseHeaders)
	if len(fields) == 0 {
		return true
	}

	if isStar(fields) {
		return false
	}

	for _, f := range fields {
		incoming, ok := req[f]
		if !ok {
			continue
		}
		if strings.Join(incoming, ", ") != value(v.RequestHeaders, f) {
			return false
		}
	}

	return true
}

func value(hdr http.Header, name string) string {
	return strings.Join(hdr.Values(name), ", ")
}

func isStar(fields []string) bool {
	return len(fields) == 1 && fields[0] == star
}
