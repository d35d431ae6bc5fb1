// Package policy validates session targets and action plans against the
// governance envelope before any browser engine is launched.
package policy

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/warden/pkg/session"
)

// Defaults for the structural limits. These are envelope constants, not
// tuning knobs: they bound what a single session may ever do.
const (
	// DefaultMaxActions caps the length of a session's action plan.
	DefaultMaxActions = 20

	// DefaultMaxValueLength bounds the value supplied to any single action.
	DefaultMaxValueLength = 10000

	// DefaultMaxTargetLength bounds selector/URL targets.
	DefaultMaxTargetLength = 2048
)

// builtinBlockedHosts are always denied regardless of configuration:
// loopback, link-local, and internal-only names.
var builtinBlockedHosts = []string{
	"localhost",
	"*.localhost",
	"*.local",
	"*.internal",
	"metadata.google.internal",
}

// Policy validates session configurations and individual URLs. A Policy is
// immutable after construction and safe for concurrent use.
type Policy struct {
	maxActions     int
	maxValueLength int
	blockedDomains []glob.Glob
	blockedRaw     []string
}

// Options configures a Policy.
type Options struct {
	// MaxActions overrides the plan-length ceiling. Zero keeps the default.
	MaxActions int

	// MaxValueLength overrides the per-action value bound. Zero keeps the
	// default.
	MaxValueLength int

	// BlockedDomains are additional glob patterns denied as navigation
	// targets, e.g. "*.evil.example" or "tracker.example".
	BlockedDomains []string
}

// New builds a Policy from the given options. Invalid blocklist patterns
// are rejected rather than silently dropped.
func New(opts Options) (*Policy, error) {
	p := &Policy{
		maxActions:     opts.MaxActions,
		maxValueLength: opts.MaxValueLength,
	}
	if p.maxActions <= 0 {
		p.maxActions = DefaultMaxActions
	}
	if p.maxValueLength <= 0 {
		p.maxValueLength = DefaultMaxValueLength
	}

	patterns := append([]string{}, builtinBlockedHosts...)
	patterns = append(patterns, opts.BlockedDomains...)
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid blocklist pattern %q: %w", pattern, err)
		}
		p.blockedDomains = append(p.blockedDomains, g)
		p.blockedRaw = append(p.blockedRaw, pattern)
	}
	return p, nil
}

// ValidateConfig checks a session config against the policy. It returns a
// list of human-readable validation errors; an empty list means the config
// is valid. The session executor refuses to start on any error.
func (p *Policy) ValidateConfig(cfg session.Config) []string {
	var errs []string

	if cfg.TenantID == "" {
		errs = append(errs, "tenant id is required")
	}
	if cfg.AgentID == "" {
		errs = append(errs, "agent id is required")
	}

	if err := p.CheckURL(cfg.TargetURL); err != nil {
		errs = append(errs, fmt.Sprintf("target url: %v", err))
	}

	if len(cfg.Actions) == 0 {
		errs = append(errs, "action plan is empty")
	}
	if len(cfg.Actions) > p.maxActions {
		errs = append(errs, fmt.Sprintf("action plan has %d actions, limit is %d", len(cfg.Actions), p.maxActions))
	}

	for i, action := range cfg.Actions {
		for _, msg := range p.validateAction(action) {
			errs = append(errs, fmt.Sprintf("action %d (%s): %s", i, action.Type, msg))
		}
	}

	return errs
}

// validateAction performs structural validation of one action.
func (p *Policy) validateAction(a session.Action) []string {
	var errs []string

	if !a.Type.Valid() {
		errs = append(errs, fmt.Sprintf("unknown action type %q", a.Type))
		return errs
	}

	if a.Type.RequiresTarget() && strings.TrimSpace(a.Target) == "" {
		errs = append(errs, "target is required")
	}
	if len(a.Target) > DefaultMaxTargetLength {
		errs = append(errs, fmt.Sprintf("target exceeds %d characters", DefaultMaxTargetLength))
	}
	if len(a.Value) > p.maxValueLength {
		errs = append(errs, fmt.Sprintf("value exceeds %d characters", p.maxValueLength))
	}

	if a.Type == session.ActionNavigate {
		if err := p.CheckURL(a.Target); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// CheckURL validates a single URL against the policy: it must parse, use an
// http(s) scheme, and not resolve to a blocked or internal-network host.
// The navigate executor calls this again at execution time as defense in
// depth against plans that mutate between validation and execution.
func (p *Policy) CheckURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url does not parse: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed, only http and https", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("url has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isInternalIP(ip) {
			return fmt.Errorf("host %s is an internal network address", host)
		}
	}

	for i, g := range p.blockedDomains {
		if g.Match(host) {
			return fmt.Errorf("host %s is blocked by policy (%s)", host, p.blockedRaw[i])
		}
	}
	return nil
}

// MaxActions returns the configured plan-length ceiling.
func (p *Policy) MaxActions() int {
	return p.maxActions
}

// isInternalIP reports whether the address belongs to a loopback, private,
// link-local, or unspecified range.
func isInternalIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
