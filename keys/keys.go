package keys

import "net/http"

// Generate returns the cache key of a request: the Host header value followed by the raw request URI.
// The key is case-sensitive and shared by every method, so GET and HEAD of a URL use the same record.
func Generate(r *http.Request) string {
	// absolute-form requests (proxies) carry the full URL here, the key keeps it as is
	uri := r.RequestURI
	if uri == "" {
		// client-side requests do not carry RequestURI
		uri = r.URL.RequestURI()
	}

	return r.Host + uri
}
