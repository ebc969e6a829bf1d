package transport

import (
	"regexp"
	"sort"
	"strings"
)

// Dialect describes how a family of devices reports command errors on an
// otherwise successful exec channel. Network operating systems usually
// exit 0 and print the error instead.
type Dialect struct {
	Name           string
	Aliases        []string
	DefaultCommand string
	errorMarkers   []*regexp.Regexp
}

// DetectError returns the first output line matching an error marker, or "".
func (d Dialect) DetectError(output string) string {
	if len(d.errorMarkers) == 0 || output == "" {
		return ""
	}
	for _, line := range strings.Split(output, "\n") {
		for _, re := range d.errorMarkers {
			if re.MatchString(line) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}

func markers(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var huaweiMarkers = markers(
	`^\s*Error:`,
	`Unrecognized command found at`,
	`Incomplete command found at`,
	`Wrong parameter found at`,
	`Too many parameters found at`,
)

var dialects = []Dialect{
	{
		Name:           "huawei",
		Aliases:        []string{"huawei_vrp", "vrp", "huawei_vrpv8"},
		DefaultCommand: "display version",
		errorMarkers:   huaweiMarkers,
	},
	{
		Name:           "huawei_ce",
		Aliases:        []string{"ce", "cloudengine"},
		DefaultCommand: "display version",
		errorMarkers:   huaweiMarkers,
	},
	{
		Name:           "cisco_ios",
		Aliases:        []string{"cisco", "ios", "cisco_xe", "cisco_nxos", "nxos"},
		DefaultCommand: "show version",
		errorMarkers: markers(
			`^\s*% ?Invalid input detected`,
			`^\s*% ?Incomplete command`,
			`^\s*% ?Ambiguous command`,
			`^\s*% ?Unknown command`,
		),
	},
	{
		Name:           "juniper",
		Aliases:        []string{"junos", "juniper_junos"},
		DefaultCommand: "show version",
		errorMarkers: markers(
			`^\s*error:`,
			`^\s*syntax error`,
			`^\s*unknown command`,
		),
	},
	{
		Name:           "linux",
		Aliases:        []string{"unix", "server"},
		DefaultCommand: "uptime",
	},
	{
		Name:           "generic",
		Aliases:        []string{""},
		DefaultCommand: "show version",
	},
}

var dialectIndex = func() map[string]Dialect {
	idx := make(map[string]Dialect)
	for _, d := range dialects {
		idx[d.Name] = d
		for _, a := range d.Aliases {
			idx[a] = d
		}
	}
	return idx
}()

// LookupDialect finds a dialect by name or alias, case-insensitively.
// The empty name is the generic dialect.
func LookupDialect(name string) (Dialect, bool) {
	d, ok := dialectIndex[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// DialectFor returns the named dialect, falling back to generic.
func DialectFor(name string) Dialect {
	if d, ok := LookupDialect(name); ok {
		return d
	}
	d, _ := LookupDialect("generic")
	return d
}

// DialectNames returns the canonical dialect names, sorted.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for _, d := range dialects {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}
