// Package navigation decides whether a kiosk surface may follow a navigation.
//
// [Decide] is a pure function of its inputs. It never performs I/O; callers act on the returned [Decision]:
//   - [Allow] : let the surface proceed
//   - [Redirect] : suppress the navigation and hand the URL to the system browser
//   - [Block] : suppress the navigation (the page is re-requesting its own URL)
//
// Loop detection only recognises a verbatim repeat of the current URL. Cycles through several distinct URLs are not detected.
package navigation

import (
	"fmt"
	"net/url"
	"strings"
)

// Action is the outcome of a policy decision.
type Action int

const (
	Allow Action = iota
	Redirect
	Block
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the result of [Decide]. Reason is for diagnostics only.
type Decision struct {
	Action Action
	Reason string
}

func (d Decision) String() string {
	return fmt.Sprintf("%s (%s)", d.Action, d.Reason)
}

const (
	reasonUnparsed   = "unparsed target"
	reasonSearch     = "search redirector"
	reasonLoop       = "loop"
	reasonAllowList  = "allow-listed"
	reasonNotAllowed = "not allow-listed"
)

// DefaultDomains is the stock kiosk allow-list.
var DefaultDomains = []string{
	"mesaconnect.io",
	"google.com",
	"youtube.com",
	"github.com",
	"stackoverflow.com",
	"reddit.com",
	"discord.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"spotify.com",
	"notion.so",
}

// AllowList is an immutable set of domains. A host matches a domain when it is equal to it or a subdomain of it.
type AllowList struct {
	domains []string
}

// NewAllowList normalises domains (lowercase, no leading dot, no blanks) and freezes them.
func NewAllowList(domains ...string) AllowList {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return AllowList{domains: out}
}

// DefaultAllowList returns an [AllowList] of [DefaultDomains].
func DefaultAllowList() AllowList {
	return NewAllowList(DefaultDomains...)
}

// Domains returns a copy of the configured domains.
func (l AllowList) Domains() []string {
	return append([]string(nil), l.domains...)
}

// Contains reports whether host is, or is a subdomain of, a listed domain.
func (l AllowList) Contains(host string) bool {
	host = strings.ToLower(host)
	for _, d := range l.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// searchRedirectors are hosts whose click-through pages carry the destination in a url query parameter.
var searchRedirectors = NewAllowList("google.com", "bing.com", "duckduckgo.com", "search.yahoo.com")

// Decide evaluates a navigation from current to target against allow.
func Decide(target, current string, allow AllowList) Decision {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		return Decision{Action: Allow, Reason: reasonUnparsed}
	}
	host := u.Hostname()

	if isSearchRedirect(u) {
		return Decision{Action: Allow, Reason: reasonSearch}
	}

	if cur, err := url.Parse(current); err == nil && cur.Hostname() == host && target == current {
		return Decision{Action: Block, Reason: reasonLoop}
	}

	if allow.Contains(host) {
		return Decision{Action: Allow, Reason: reasonAllowList}
	}

	return Decision{Action: Redirect, Reason: reasonNotAllowed}
}

func isSearchRedirect(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if !searchRedirectors.Contains(host) && !isGoogleCountryHost(host) {
		return false
	}
	return u.Query().Get("url") != ""
}

// isGoogleCountryHost matches google.<cc> and google.<co|com>.<cc> with an optional www,
// such as google.de or www.google.co.uk. Anything deeper is someone else's domain.
func isGoogleCountryHost(host string) bool {
	rest, ok := strings.CutPrefix(strings.TrimPrefix(host, "www."), "google.")
	if !ok {
		return false
	}
	labels := strings.Split(rest, ".")
	switch len(labels) {
	case 1:
		return isAlpha(labels[0], 2, 3)
	case 2:
		return (labels[0] == "co" || labels[0] == "com") && isAlpha(labels[1], 2, 2)
	}
	return false
}

func isAlpha(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
