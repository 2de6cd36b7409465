package validation

import (
	"strconv"

	"github.com/dlclark/regexp2"
)

// RuleKind tags how a Rule evaluates its value.
type RuleKind int

const (
	KindString RuleKind = iota
	KindObject
	KindEnum
	KindPattern
)

// Rule is one declared field check. Name is reported to callers as the
// failed validator when the check does not hold.
type Rule struct {
	Field    string
	Required bool
	Kind     RuleKind
	Name     string
	Allowed  []string          // KindEnum
	Match    func(string) bool // KindPattern
}

// Check evaluates the rule against a non-falsy value.
func (r Rule) Check(value any) bool {
	switch r.Kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindObject:
		switch value.(type) {
		case map[string]any, []any:
			return true
		}
		return false
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, a := range r.Allowed {
			if s == a {
				return true
			}
		}
		return false
	case KindPattern:
		s, ok := value.(string)
		return ok && r.Match != nil && r.Match(s)
	}
	return false
}

var (
	// NotificationRules apply to each element of the notifications array.
	NotificationRules = []Rule{
		{Field: "descriptor", Required: true, Kind: KindString, Name: "isString"},
		{Field: "detectedTime", Required: true, Kind: KindPattern, Name: "isValidISO8601DateTime", Match: IsISO8601DateTime},
		{Field: "data", Required: true, Kind: KindObject, Name: "isObject"},
	}

	// DataRules apply to the data object nested in each notification.
	DataRules = []Rule{
		{Field: "geofenceCode", Required: true, Kind: KindString, Name: "isString"},
		{Field: "crossingType", Required: true, Kind: KindEnum, Name: "isValidCrossingType", Allowed: []string{"enter", "exit"}},
	}
)

// Extended ISO-8601 grammar: calendar, week and ordinal dates with optional
// time, fraction and offset. Group 17 is the hh:mm separator, reused for :ss.
var iso8601Pattern = regexp2.MustCompile(
	`^([\+-]?\d{4}(?!\d{2}\b))((-?)((0[1-9]|1[0-2])(\3([12]\d|0[1-9]|3[01]))?|W([0-4]\d|5[0-2])(-?[1-7])?|(00[1-9]|0[1-9]\d|[12]\d{2}|3([0-5]\d|6[1-6])))([T\s]((([01]\d|2[0-3])((:?)[0-5]\d)?|24\:?00)([\.,]\d+(?!:))?)?(\17[0-5]\d([\.,]\d+)?)?([zZ]|([\+-])([01]\d|2[0-3]):?([0-5]\d)?)?)?)?$`,
	regexp2.ECMAScript,
)

// Date-time string format accepted by Date.parse: extended form only, a
// period before the fraction, and T or a space between date and time.
var dateTimePattern = regexp2.MustCompile(
	`^(?<year>\d{4})(?:-(?<month>\d{2})(?:-(?<day>\d{2}))?)?(?:[T ](?<hour>\d{2}):(?<minute>\d{2})(?::(?<second>\d{2})(?:\.(?<fraction>\d+))?)?(?:[zZ]|[+-](?<offh>\d{2}):?(?<offm>\d{2}))?)?$`,
	regexp2.None,
)

// IsISO8601DateTime reports whether s is a date-time that both parses as a
// date and matches the extended ISO-8601 grammar. Week and ordinal dates
// match the grammar but do not parse, so they are rejected.
func IsISO8601DateTime(s string) bool {
	if s == "" || !parsesAsDate(s) {
		return false
	}
	ok, err := iso8601Pattern.MatchString(s)
	return err == nil && ok
}

// parsesAsDate follows Date.parse field limits: any day up to 31 in every
// month, and hour 24 only as 24:00 with zero seconds.
func parsesAsDate(s string) bool {
	m, err := dateTimePattern.FindStringMatch(s)
	if err != nil || m == nil {
		return false
	}
	field := func(name string) (int, bool) {
		g := m.GroupByName(name)
		if g == nil || g.Length == 0 {
			return 0, false
		}
		n, err := strconv.Atoi(g.String())
		return n, err == nil
	}
	within := func(name string, lo, hi int) bool {
		n, ok := field(name)
		return !ok || (n >= lo && n <= hi)
	}

	if !within("month", 1, 12) || !within("day", 1, 31) || !within("hour", 0, 24) ||
		!within("minute", 0, 59) || !within("second", 0, 59) ||
		!within("offh", 0, 23) || !within("offm", 0, 59) {
		return false
	}
	if hour, _ := field("hour"); hour == 24 {
		minute, _ := field("minute")
		second, _ := field("second")
		fraction, _ := field("fraction")
		return minute == 0 && second == 0 && fraction == 0
	}
	return true
}
