package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/devpoll/devpoll/internal/errors"
)

// devicePattern matches one "hostname, ipv4" line.
var devicePattern = regexp.MustCompile(`^(?P<hostname>\S+)\s*,\s*(?P<ipv4>\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s*$`)

// LoadDevices reads a device list file. See ParseDevices.
func LoadDevices(path string) ([]Host, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't open device list "+path,
			"Check the --devices path")
	}
	defer f.Close()
	return ParseDevices(f, path)
}

// ParseDevices parses "hostname, ipv4" lines. Blank lines and lines
// starting with # are skipped; anything else that doesn't match is an error.
func ParseDevices(r io.Reader, name string) ([]Host, error) {
	var hosts []Host
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := devicePattern.FindStringSubmatch(line)
		if m == nil {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("%s:%d: expected 'hostname, ipv4', got %q", name, lineNo, line),
				"Each line is a host name, a comma, and an IPv4 address")
		}
		hosts = append(hosts, Host{
			Name:    m[devicePattern.SubexpIndex("hostname")],
			Address: m[devicePattern.SubexpIndex("ipv4")],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Failed reading device list "+name, "")
	}
	return hosts, nil
}
