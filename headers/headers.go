package headers

/*
Cache-Control keys and values https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Cache-Control#cache_directives
*/

const (
	Auth         string = "Authorization"
	Age          string = "Age"
	CacheControl string = "Cache-Control"
	Cookie       string = "Cookie"
	Date         string = "Date"
	Expires      string = "Expires"
	Pragma       string = "Pragma"
	SetCookie    string = "Set-Cookie"
	Vary         string = "Vary"
)

const (
	Public          string = "public"
	Private         string = "private"
	MaxAge          string = "max-age"
	SMaxAge         string = "s-maxage"
	MaxStale        string = "max-stale"
	MinFresh        string = "min-fresh"
	NoCache         string = "no-cache"
	NoStore         string = "no-store"
	NoTransform     string = "no-transform"
	MustRevalidate  string = "must-revalidate"
	ProxyRevalidate string = "proxy-revalidate"
	OnlyIfCached    string = "only-if-cached"
)

// HopByHop lists the response headers which are meaningful only for a single
// connection and never stored, in canonical form.
var HopByHop = map[string]struct{}{ //nolint:gochecknoglobals
	"Connection":           {},
	"Keep-Alive":           {},
	"Proxy-Authentication": {},
	"Proxy-Authorization":  {},
	"Te":                   {},
	"Transfer-Encoding":    {},
	"Upgrade":              {},
}
