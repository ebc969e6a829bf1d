package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

// Filter selects hosts. Empty fields match everything.
type Filter struct {
	// Names match Host.Name or Host.Address. A name matching nothing is
	// polled as an ad-hoc host at that address.
	Names []string
	// Tags keep hosts carrying at least one of them.
	Tags []string
}

// Select applies filter to cfg.Hosts, preserving config order. Ad-hoc
// hosts follow in the order given.
func Select(cfg *Config, filter Filter) []Host {
	var out []Host
	matched := make(map[string]bool, len(filter.Names))

	for _, h := range cfg.Hosts {
		if len(filter.Names) > 0 {
			hit := false
			for _, n := range filter.Names {
				if n == h.Name || n == h.Address {
					matched[n] = true
					hit = true
				}
			}
			if !hit {
				continue
			}
		}
		if len(filter.Tags) > 0 && !hasAnyTag(h.Tags, filter.Tags) {
			continue
		}
		out = append(out, h)
	}

	if len(filter.Tags) == 0 {
		for _, n := range filter.Names {
			if !matched[n] {
				out = append(out, Host{Address: n})
				matched[n] = true
			}
		}
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// Jobs builds one PollJob per host. Each field the host leaves unset comes
// from cfg.Defaults, or cfg.FailureThreshold for the threshold.
func Jobs(cfg *Config, hosts []Host) ([]poll.PollJob, error) {
	jobs := make([]poll.PollJob, 0, len(hosts))
	for _, h := range hosts {
		session := firstNonEmpty(h.Session, cfg.Defaults.Session)
		policy, err := poll.ParsePolicy(session)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Unknown session policy %q for host %s", session, hostLabel(h)),
				"Use auto, per-call or persistent")
		}
		job := poll.PollJob{
			Host:             resolveHost(cfg.Defaults, h),
			Command:          firstNonEmpty(h.Command, cfg.Defaults.Command),
			Interval:         firstPositive(h.Interval, cfg.Defaults.Interval),
			Duration:         firstPositive(h.Duration, cfg.Defaults.Duration),
			Timeout:          firstPositive(h.Timeout, cfg.Defaults.Timeout),
			Policy:           policy,
			FailureThreshold: firstPositive(h.FailureThreshold, cfg.FailureThreshold),
		}
		if err := job.Validate(); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func resolveHost(d Defaults, h Host) poll.Host {
	port := h.Port
	if port == 0 {
		port = d.Port
	}
	return poll.Host{
		Name:          h.Name,
		Address:       h.Address,
		Port:          port,
		DeviceType:    firstNonEmpty(h.DeviceType, d.DeviceType),
		Protocol:      strings.ToLower(firstNonEmpty(h.Protocol, d.Protocol)),
		CredentialRef: firstNonEmpty(h.Credential, d.Credential),
		Tags:          h.Tags,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive[T int | time.Duration](vals ...T) T {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func hostLabel(h Host) string {
	if h.Name != "" {
		return h.Name
	}
	return h.Address
}
