package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

const (
	snmpPort             = 161
	snmpDefaultCommunity = "public"
)

// SNMPOptions configures the SNMP transport.
type SNMPOptions struct {
	Timeout time.Duration
	Retries int
}

// SNMP treats a command as a whitespace-separated list of OIDs and runs one
// v2c GET for them. Output is one "oid = value" line per varbind.
type SNMP struct {
	opts SNMPOptions
}

// NewSNMP creates the SNMP transport.
func NewSNMP(opts SNMPOptions) *SNMP {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &SNMP{opts: opts}
}

// ReusableSessions implements poll.Transport. A UDP socket is cheap to keep.
func (t *SNMP) ReusableSessions() bool {
	return true
}

// Open binds a UDP socket for host.
func (t *SNMP) Open(ctx context.Context, host poll.Host, cred poll.Credential) (poll.Session, error) {
	port := host.Port
	if port == 0 {
		port = snmpPort
	}
	community := cred.Community
	if community == "" {
		community = snmpDefaultCommunity
	}

	g := &gosnmp.GoSNMP{
		Target:    host.Address,
		Port:      uint16(port),
		Version:   gosnmp.Version2c,
		Community: community,
		Timeout:   t.opts.Timeout,
		Retries:   t.opts.Retries,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("Cannot open SNMP socket to %s", host.ID()), "")
	}
	return &snmpSession{g: g, host: host.ID()}, nil
}

type snmpSession struct {
	g    *gosnmp.GoSNMP
	host string
}

func (s *snmpSession) Run(ctx context.Context, command string) (string, error) {
	oids := strings.Fields(command)
	if len(oids) == 0 {
		return "", errors.New(errors.ErrExec, "No OIDs in command", "Pass one or more OIDs, e.g. 1.3.6.1.2.1.1.3.0")
	}

	s.g.Context = ctx
	pkt, err := s.g.Get(oids)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
				fmt.Sprintf("SNMP GET to %s timed out", s.host), "")
		}
		return "", errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("No SNMP response from %s", s.host),
			"Check the community string and that UDP/161 is reachable")
	}
	if pkt.Error != gosnmp.NoError {
		return "", errors.New(errors.ErrExec,
			fmt.Sprintf("Agent on %s returned %v (index %d)", s.host, pkt.Error, pkt.ErrorIndex), "")
	}

	var b strings.Builder
	var missing []string
	for _, v := range pkt.Variables {
		name := strings.TrimPrefix(v.Name, ".")
		switch v.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
			missing = append(missing, name)
			fmt.Fprintf(&b, "%s = %s\n", name, v.Type)
			continue
		}
		fmt.Fprintf(&b, "%s = %s\n", name, formatSNMPValue(v))
	}

	out := b.String()
	if len(missing) > 0 {
		return out, errors.New(errors.ErrExec,
			fmt.Sprintf("Agent on %s has no value for %s", s.host, strings.Join(missing, ", ")), "")
	}
	return out, nil
}

func formatSNMPValue(v gosnmp.SnmpPDU) string {
	switch val := v.Value.(type) {
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func (s *snmpSession) Close() error {
	if s.g.Conn == nil {
		return nil
	}
	return s.g.Conn.Close()
}
