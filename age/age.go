// Package age implements the current_age calculation
// https://datatracker.ietf.org/doc/html/rfc7234#section-4.2.3
package age

import (
	stderr "errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roadrunner-server/httpcache/headers"
)

// Inputs are the clock readings and header values the calculation works on.
type Inputs struct {
	// Date is the Date header value (origination time), zero if absent
	Date time.Time
	// AgeValue is the Age header value, 0 if absent
	AgeValue time.Duration
	// RequestTime is when the request that produced the response was initiated
	RequestTime time.Time
	// ResponseTime is when the response headers became available
	ResponseTime time.Time
	// Now is the current clock value
	Now time.Time
}

// FromHeader fills Date and AgeValue from the response headers.
func FromHeader(hdr http.Header, requestTime, responseTime, now time.Time) Inputs {
	in := Inputs{
		RequestTime:  requestTime,
		ResponseTime: responseTime,
		Now:          now,
	}

	if d, err := http.ParseTime(hdr.Get(headers.Date)); err == nil {
		in.Date = d
	}

	in.AgeValue = Value(hdr)

	return in
}

// MaxDeltaSeconds replaces delta-seconds values too large to represent
// https://datatracker.ietf.org/doc/html/rfc9111#section-1.2.2
const MaxDeltaSeconds uint64 = 2147483648

// Value parses the Age header as non-negative seconds. Non-numeric values are
// treated as 0, overflowing ones as MaxDeltaSeconds.
func Value(hdr http.Header) time.Duration {
	v := strings.TrimSpace(hdr.Get(headers.Age))
	if v == "" {
		return 0
	}

	secs, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		if !stderr.Is(err, strconv.ErrRange) {
			return 0
		}
		secs = MaxDeltaSeconds
	}

	return time.Duration(min(secs, MaxDeltaSeconds)) * time.Second
}

/*
Current returns the current age in whole seconds:

	apparent_age  = max(0, response_time - date_value)
	corrected_age = max(apparent_age, age_value)
	initial_age   = corrected_age + (response_time - request_time)
	resident_time = now - response_time
	current_age   = round(initial_age + resident_time)
*/
func Current(in Inputs) int64 {
	date := in.Date
	if date.IsZero() {
		date = in.ResponseTime
	}

	apparent := max(0, in.ResponseTime.Sub(date))
	corrected := max(apparent, in.AgeValue)
	initial := corrected + max(0, in.ResponseTime.Sub(in.RequestTime))
	resident := max(0, in.Now.Sub(in.ResponseTime))

	return int64(math.Round((initial + resident).Seconds()))
}

// Stale reports whether a response with the given current age has outlived its freshness lifetime.
func Stale(current, lifetime int64) bool {
	return current >= lifetime
}

// Format renders an age for the Age header.
func Format(current int64) string {
	return strconv.FormatInt(current, 10)
}
