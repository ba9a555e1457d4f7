package directives

import (
	"strconv"
	"strings"

	"github.com/roadrunner-server/httpcache/headers"
	"github.com/roadrunner-server/sdk/v2/utils"
	"go.uber.org/zap"
)

/*
Request Cache-Control Directives: https://datatracker.ietf.org/doc/html/rfc7234#section-5.2.1
Response Cache-Control Directives: https://datatracker.ietf.org/doc/html/rfc7234#section-5.2.2
*/

/*
   Cache-Control   = 1#cache-directive
   cache-directive = token [ "=" ( token / quoted-string ) ]
*/

const (
	comma string = ","
	eq    byte   = '='
	space string = " \t"
	quote string = "\""
)

// Parse allocates a new CacheControl and fills it from the header value.
func Parse(directives string, log *zap.Logger) *CacheControl {
	cc := new(CacheControl)
	ParseInto(directives, log, cc)
	return cc
}

// ParseInto parses the header value into r. Unknown and malformed directives are skipped,
// the last occurrence of a repeated directive wins.
func ParseInto(directives string, log *zap.Logger, r *CacheControl) { //nolint:gocyclo
	// cwe-117
	directives = strings.ReplaceAll(directives, "\n", "")
	directives = strings.ReplaceAll(directives, "\r", "")

	r.raw = directives
	if directives == "" {
		return
	}

	split := strings.Split(directives, comma)

	for i := 0; i < len(split); i++ {
		part := strings.Trim(split[i], space)
		if part == "" {
			continue
		}

		token := part
		val := ""
		hasVal := false

		// max-age, s-maxage, max-stale, min-fresh, private="..."
		if idx := strings.IndexByte(part, eq); idx != -1 {
			token = strings.Trim(part[:idx], space)
			val = strings.Trim(strings.Trim(part[idx+1:], space), quote)
			hasVal = val != ""
		}

		if token == "" {
			log.Debug("bad cache-control directive", zap.String("value", part))
			continue
		}

		switch strings.ToLower(token) {
		case headers.Public:
			r.Public = true
		case headers.Private:
			r.Private = true
			r.PrivateFields = val
		case headers.NoCache:
			r.NoCache = true
		case headers.NoStore:
			r.NoStore = true
		case headers.NoTransform:
			r.NoTransform = true
		case headers.MustRevalidate:
			r.MustRevalidate = true
		case headers.ProxyRevalidate:
			r.ProxyRevalidate = true
		case headers.OnlyIfCached:
			r.OnlyIfCached = true
		case headers.MaxAge:
			if v, ok := parseSeconds(token, val, hasVal, log); ok {
				r.MaxAge = v
			}
		case headers.SMaxAge:
			if v, ok := parseSeconds(token, val, hasVal, log); ok {
				r.SMaxAge = v
			}
		case headers.MinFresh:
			if v, ok := parseSeconds(token, val, hasVal, log); ok {
				r.MinFresh = v
			}
		case headers.MaxStale:
			if !hasVal {
				r.MaxStale = utils.Uint64(MaxStaleUnbounded)
				continue
			}
			if v, ok := parseSeconds(token, val, hasVal, log); ok {
				r.MaxStale = v
			}
		default:
			continue
		}
	}
}

func parseSeconds(token, val string, hasVal bool, log *zap.Logger) (*uint64, bool) {
	if !hasVal {
		log.Debug("cache-control directive without value", zap.String("directive", token))
		return nil, false
	}

	valUint, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		log.Debug("parse cache-control directive", zap.String("directive", token), zap.String("value", val), zap.Error(err))
		return nil, false
	}

	return utils.Uint64(valUint), true
}
