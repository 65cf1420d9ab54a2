// Package sql screens user-supplied filter text for SQL injection patterns
// before it reaches a query, even though every query is parameterised.
package sql

import (
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a filter value.
type InjectionCheckResult struct {
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the filter that failed the check
	ParamValue  string // The value that was checked
}

// plainToken matches single words such as tracking numbers, which carry no SQL syntax.
var plainToken = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// CheckValue uses libinjection to detect SQL injection patterns in a filter value.
// Returns nil if no injection is detected.
//
// Example:
//
//	CheckValue("search", "PNP-2026-MEM")            // nil
//	CheckValue("search", "' OR '1'='1")             // Fingerprint "s&sos" (or similar)
func CheckValue(paramName, value string) *InjectionCheckResult {
	if value == "" || plainToken.MatchString(value) {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		ParamValue:  value,
	}
}
