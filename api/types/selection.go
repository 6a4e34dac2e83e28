/*
Copyright 2025 The maco Authors

This program is offered under a commercial and under the AGPL license.
For AGPL licensing, see below.

AGPL licensing:
This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package types

import (
	"bytes"
	"fmt"
	"net"
	"path"
	"regexp"
	"strings"

	"github.com/macofab/macod/pkg/iprange"
)

// MinionState is the lifecycle state of a minion's key in the master's
// key store.
type MinionState string

const (
	Unaccepted MinionState = "unaccepted"
	Accepted   MinionState = "accepted"
	AutoSign   MinionState = "auto_sign"
	Denied     MinionState = "denied"
	Rejected   MinionState = "rejected"
)

func (s MinionState) String() string { return string(s) }

// SelectionTarget is anything a Selection can be matched against: a
// connected minion, or a job's declared target set.
type SelectionTarget interface {
	Id() string
	IP() string
	Groups() []string
	Grains() map[string]string
	Pillars() map[string]string
}

// SelectionKV is a key/value condition used by the grains and pillar tags.
type SelectionKV struct {
	Key   string `json:"key" msgpack:"key"`
	Value string `json:"value" msgpack:"value"`
}

// LogicAnd and LogicOr are zero-size markers: their presence in a
// Selection slot means "combine the previous and next result with this
// operator" rather than naming a match condition.
type LogicAnd struct{}
type LogicOr struct{}

// Selection is one node of a target expression: either a match
// condition (exactly one of the fields below is set) or a logic operator
// (And/Or set). Selections are combined left to right inside a
// SelectionOptions.
type Selection struct {
	Hosts      []string     `json:"hosts,omitempty" msgpack:"hosts,omitempty"`
	HostPcre   string       `json:"host_pcre,omitempty" msgpack:"host_pcre,omitempty"`
	IdRange    string       `json:"id_range,omitempty" msgpack:"id_range,omitempty"`
	HostGroups []string     `json:"host_groups,omitempty" msgpack:"host_groups,omitempty"`
	IpCidr     string       `json:"ip_cidr,omitempty" msgpack:"ip_cidr,omitempty"`
	Grains     *SelectionKV `json:"grains,omitempty" msgpack:"grains,omitempty"`
	GrainsPcre *SelectionKV `json:"grains_pcre,omitempty" msgpack:"grains_pcre,omitempty"`
	Pillar     *SelectionKV `json:"pillar,omitempty" msgpack:"pillar,omitempty"`
	PillarPcre *SelectionKV `json:"pillar_pcre,omitempty" msgpack:"pillar_pcre,omitempty"`
	And        *LogicAnd    `json:"and,omitempty" msgpack:"and,omitempty"`
	Or         *LogicOr     `json:"or,omitempty" msgpack:"or,omitempty"`
}

// SelectionOptions is a full target expression: an ordered list of
// Selections and logic operators, evaluated left to right.
type SelectionOptions struct {
	Selections []*Selection `json:"selections,omitempty" msgpack:"selections,omitempty"`
}

type SelectionOption func(*SelectionOptions)

// WithHosts matches host ids against a single shell-style glob
// (path.Match syntax). "*" matches everything.
func WithHosts(host string, or ...bool) SelectionOption {
	s := &Selection{Hosts: []string{host}}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithList matches any host whose id matches one of the given ids; each
// entry is matched as a glob, as in WithHosts.
func WithList(hosts []string, lg ...bool) SelectionOption {
	s := &Selection{Hosts: hosts}
	f := true
	if len(lg) > 0 && !lg[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithHostRegex matches host ids against a POSIX regular expression.
func WithHostRegex(pattern string, or ...bool) SelectionOption {
	s := &Selection{HostPcre: pattern}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithRange matches host ids by prefix%/%suffix/%middle% glob range syntax.
func WithRange(idt string, or ...bool) SelectionOption {
	s := &Selection{IdRange: idt}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithHostGroup matches any host belonging to one of the named groups.
func WithHostGroup(groups []string, or ...bool) SelectionOption {
	s := &Selection{HostGroups: groups}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithIPCidr matches hosts whose IP falls inside a comma-separated CIDR list.
func WithIPCidr(cidr string, or ...bool) SelectionOption {
	s := &Selection{IpCidr: cidr}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithGrains matches an exact grains key/value pair.
func WithGrains(key, value string, or ...bool) SelectionOption {
	s := &Selection{Grains: &SelectionKV{Key: key, Value: value}}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithGrainsRegex matches a grains value against a POSIX regular expression.
func WithGrainsRegex(key, pattern string, or ...bool) SelectionOption {
	s := &Selection{GrainsPcre: &SelectionKV{Key: key, Value: pattern}}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithPillar matches an exact pillar key/value pair.
func WithPillar(key string, value string, lg ...bool) SelectionOption {
	s := &Selection{Pillar: &SelectionKV{Key: key, Value: value}}
	f := true
	if len(lg) > 0 && !lg[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

// WithPillarRegex matches a pillar value against a POSIX regular expression.
func WithPillarRegex(key, pattern string, or ...bool) SelectionOption {
	s := &Selection{PillarPcre: &SelectionKV{Key: key, Value: pattern}}
	f := true
	if len(or) > 0 && !or[0] {
		f = false
	}
	return func(o *SelectionOptions) { o.append(s, f) }
}

func (m *SelectionOptions) and(s *Selection) {
	m.Selections = append(m.Selections, &Selection{And: &LogicAnd{}}, s)
}

func (m *SelectionOptions) or(s *Selection) {
	m.Selections = append(m.Selections, &Selection{Or: &LogicOr{}}, s)
}

func (m *SelectionOptions) append(s *Selection, and bool) {
	if m.Selections == nil {
		m.Selections = []*Selection{s}
	} else if and {
		m.and(s)
	} else {
		m.or(s)
	}
}

// Validate checks that the selection chain is well formed: no leading or
// consecutive logic operators, valid regexes, valid CIDR ranges, and at
// least one real match condition.
func (m *SelectionOptions) Validate() error {
	hasSelection := false

	lastIsLogic := false
	for i, s := range m.Selections {
		text := s.ToText()
		if text != "" && text != "and" && text != "or" {
			hasSelection = true
		}
		if text == "" {
			return fmt.Errorf("empty selection at selection[%d]", i)
		}
		if i == 0 && s.isLogic() {
			return fmt.Errorf("invalid selection[0]: %s", text)
		}
		if lastIsLogic && s.isLogic() {
			return fmt.Errorf("continuous logic selection at selection[%d]", i)
		}

		pattern := ""
		if s.HostPcre != "" {
			pattern = s.HostPcre
		}
		if idx := strings.Index(text, "@"); idx > 0 {
			tag := text[:idx]
			if tag == "E" || tag == "P" || tag == "J" {
				_, before, ok := strings.Cut(text, ":")
				if ok {
					pattern = before
				} else {
					pattern = text
				}
			}
		}
		if pattern != "" {
			if _, err := regexp.CompilePOSIX(pattern); err != nil {
				return fmt.Errorf("invalid regexp '%s' at selection[%d]", pattern, i)
			}
		}
		if len(s.IpCidr) != 0 {
			if _, err := iprange.ParseRanges(s.IpCidr); err != nil {
				return fmt.Errorf("invalid ip range at selection[%d]", i)
			}
		}

		lastIsLogic = s.isLogic()
	}

	if !hasSelection {
		return fmt.Errorf("no selection options found")
	}

	return nil
}

// MatchId matches a minion id. hit reports whether this Selection carries
// an id-shaped condition at all (Hosts/HostPcre/IdRange).
func (m *Selection) MatchId(id string) (bool, bool) {
	hit := false
	if len(m.Hosts) != 0 {
		hit = true
		if m.Hosts[0] == "*" {
			return true, hit
		}
		for _, value := range m.Hosts {
			if ok, _ := path.Match(value, id); ok || value == "*" || value == id {
				return true, hit
			}
		}
		return false, hit
	}
	if len(m.HostPcre) != 0 {
		hit = true
		re, err := regexp.CompilePOSIX(m.HostPcre)
		if err != nil {
			return false, hit
		}
		return re.MatchString(id), hit
	}
	if len(m.IdRange) != 0 {
		ok := true
		hit = true
		if r := m.IdRange; len(r) > 1 && r[0] == '%' && r[len(r)-1] == '%' {
			return strings.Contains(id, r[1:len(r)-1]), hit
		}
		if m.IdRange[0] == '%' {
			ok = strings.HasSuffix(id, m.IdRange[1:])
		}
		if m.IdRange[len(m.IdRange)-1] == '%' {
			ok = ok && strings.HasPrefix(id, m.IdRange[:len(m.IdRange)-1])
		}
		return ok, hit
	}
	return false, hit
}

// MatchIP matches a minion IP address against an IpCidr condition.
func (m *Selection) MatchIP(ip string) (bool, bool) {
	hit := false
	if len(m.IpCidr) != 0 {
		hit = true
		ranges, err := iprange.ParseRanges(m.IpCidr)
		if err != nil {
			return false, hit
		}
		for _, rng := range ranges {
			if rng.Contains(net.ParseIP(ip)) {
				return true, true
			}
		}
		return false, hit
	}
	return false, hit
}

// ToText renders a Selection back into its DSL tag form, e.g. "E@web.*"
// or "G@os:linux". Host lists render as a bare comma-joined string.
func (m *Selection) ToText() string {
	if len(m.Hosts) != 0 {
		return strings.Join(m.Hosts, ",")
	}
	if len(m.HostPcre) != 0 {
		return fmt.Sprintf("E@%s", m.HostPcre)
	}
	if len(m.IdRange) != 0 {
		return fmt.Sprintf("R@%s", m.IdRange)
	}
	if len(m.HostGroups) != 0 {
		return fmt.Sprintf("N@%s", strings.Join(m.HostGroups, ","))
	}
	if len(m.IpCidr) != 0 {
		return fmt.Sprintf("S@%s", m.IpCidr)
	}
	if kv := m.Grains; kv != nil {
		return fmt.Sprintf("G@%s:%s", kv.Key, kv.Value)
	}
	if kv := m.GrainsPcre; kv != nil {
		return fmt.Sprintf("P@%s:%s", kv.Key, kv.Value)
	}
	if kv := m.Pillar; kv != nil {
		return fmt.Sprintf("I@%s:%s", kv.Key, kv.Value)
	}
	if kv := m.PillarPcre; kv != nil {
		return fmt.Sprintf("J@%s:%s", kv.Key, kv.Value)
	}
	if m.And != nil {
		return "and"
	}
	if m.Or != nil {
		return "or"
	}
	return ""
}

func (m *Selection) isLogic() bool {
	return m.And != nil || m.Or != nil
}

// NewSelectionOptions applies opts in order and validates the result.
func NewSelectionOptions(opts ...SelectionOption) (*SelectionOptions, error) {
	options := &SelectionOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return options, nil
}

// ParseSelection parses a space-separated target expression, e.g.
// "E@web[0-9]+ and G@os:linux or N@database", into a SelectionOptions.
func ParseSelection(text string) (*SelectionOptions, error) {
	selections := make([]*Selection, 0)

	tag := ""
	key := ""
	value := ""

	text = strings.TrimSpace(text)

	length := len(text)
	i, j := 0, 0
	for {
		if (j < length && text[j] == ' ') || j == length {
			for k := i; k < j; k++ {
				if text[k] == '@' {
					tag = strings.TrimSpace(text[i:k])
					i = k + 1
				}
				if text[k] == ':' {
					key = strings.TrimSpace(text[i:k])
					i = k + 1
				}
			}
			value = strings.TrimSpace(text[i:j])

			var selection *Selection
			switch tag {
			case "E":
				if _, err := regexp.CompilePOSIX(value); err != nil {
					return nil, fmt.Errorf("invalid host regexp 'E@%s'", value)
				}
				selection = &Selection{HostPcre: value}
			case "R":
				selection = &Selection{IdRange: value}
			case "N":
				selection = &Selection{HostGroups: strings.Split(value, ",")}
			case "S":
				if _, err := iprange.ParseRanges(value); err != nil {
					return nil, fmt.Errorf("invalid ip range regexp 'S@%s'", value)
				}
				selection = &Selection{IpCidr: value}
			case "G":
				if key == "" {
					return nil, fmt.Errorf("invalid grains expression 'G@%s'", value)
				}
				selection = &Selection{Grains: &SelectionKV{Key: key, Value: value}}
			case "P":
				if _, err := regexp.CompilePOSIX(value); err != nil {
					return nil, fmt.Errorf("invalid grains regexp 'P@%s:%s'", key, value)
				}
				selection = &Selection{GrainsPcre: &SelectionKV{Key: key, Value: value}}
			case "I":
				selection = &Selection{Pillar: &SelectionKV{Key: key, Value: value}}
			case "J":
				if _, err := regexp.CompilePOSIX(value); err != nil {
					return nil, fmt.Errorf("invalid pillar regexp 'J@%s:%s'", key, value)
				}
				selection = &Selection{PillarPcre: &SelectionKV{Key: key, Value: value}}
			case "and":
				selection = &Selection{And: &LogicAnd{}}
			case "or":
				selection = &Selection{Or: &LogicOr{}}
			case "":
				if value == "and" {
					selection = &Selection{And: &LogicAnd{}}
				} else if value == "or" {
					selection = &Selection{Or: &LogicOr{}}
				} else if value == "*" {
					selection = &Selection{Hosts: []string{"*"}}
				} else if value != "" {
					selection = &Selection{Hosts: strings.Split(value, ",")}
				}
			}

			if selection != nil {
				selections = append(selections, selection)
			}

			tag = ""
			key = ""
			value = ""
		}

		if j >= length {
			break
		}
		if j < length && text[j] == ' ' {
			i = j
		}
		j++
	}

	return &SelectionOptions{Selections: selections}, nil
}

// MatchTarget evaluates the full selection chain against target. In
// simple mode, grains and pillar conditions are skipped (treated as
// non-hits) so callers that don't have grains/pillar data for a target
// (e.g. a bare connection table) can still evaluate host/group/IP
// conditions cheaply.
func (m *SelectionOptions) MatchTarget(target SelectionTarget, simple bool) (bool, bool) {
	result := true
	resultHit := false
	var lastMatch bool
	orNext := false
	for _, s := range m.Selections {
		if s.And != nil || s.Or != nil {
			if orNext {
				result = result || lastMatch
			} else {
				result = result && lastMatch
			}
			orNext = s.Or != nil
			lastMatch = false
			continue
		}

		id := target.Id()
		if len(id) != 0 {
			matched, hit := s.MatchId(id)
			if hit {
				lastMatch = matched
				resultHit = true
				continue
			}
		}

		ip := target.IP()
		if len(ip) != 0 {
			matched, hit := s.MatchIP(ip)
			if hit {
				lastMatch = matched
				resultHit = true
				continue
			}
		}

		groups := target.Groups()
		if len(groups) != 0 {
		groupLoop:
			for _, g := range groups {
				for _, h := range s.HostGroups {
					resultHit = true
					if g == h {
						lastMatch = true
						break groupLoop
					}
				}
			}
		}

		if simple {
			continue
		}

		grains := target.Grains()
		if len(grains) != 0 {
			if kv := s.Grains; kv != nil {
				resultHit = true
				if value, ok := grains[kv.Key]; ok {
					lastMatch = value == kv.Value
				}
				continue
			}
			if kv := s.GrainsPcre; kv != nil {
				if value, ok := grains[kv.Key]; ok {
					resultHit = true
					if re, err := regexp.CompilePOSIX(kv.Value); err == nil {
						lastMatch = re.MatchString(value)
					}
				}
				continue
			}
		}

		pillars := target.Pillars()
		if len(pillars) != 0 {
			if kv := s.Pillar; kv != nil {
				if value, ok := pillars[kv.Key]; ok {
					resultHit = true
					lastMatch = value == kv.Value
				}
				continue
			}
			if kv := s.PillarPcre; kv != nil {
				if value, ok := pillars[kv.Key]; ok {
					resultHit = true
					if re, err := regexp.CompilePOSIX(kv.Value); err == nil {
						lastMatch = re.MatchString(value)
					}
				}
				continue
			}
		}
	}

	if orNext {
		return result || lastMatch, resultHit
	}
	return result && lastMatch, resultHit
}

// ToText renders the full selection chain back into DSL form, inverse of
// ParseSelection.
func (m *SelectionOptions) ToText() string {
	buf := bytes.NewBufferString("")
	length := len(m.Selections)
	for i, selection := range m.Selections {
		buf.WriteString(selection.ToText())
		if i < length-1 {
			buf.WriteString(" ")
		}
	}
	return buf.String()
}
