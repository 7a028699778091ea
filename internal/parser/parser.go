// Package parser normalizes the free-form title and location strings found in
// published room calendars into structured fields. Parsing is total: any
// input that matches nothing falls through to a cleaned pass-through.
package parser

import (
	"regexp"
	"strings"
)

type ParsedTitle struct {
	Subject      string
	DisplayTitle string
	Professor    string
	GroupDisplay string
}

type ParsedLocation struct {
	Room     string
	Building string
}

// Institution prefixes stripped before any field extraction.
var prefixRe = regexp.MustCompile(`(?i)^\s*(?:utcn|ac)\s*[-–]\s*`)

var spaceRe = regexp.MustCompile(`\s+`)

// Professor patterns, most specific first. A match is removed from the title.
var professorRes = []*regexp.Regexp{
	// "Prof. dr. Ioan Pop", "Conf. Maria Ionescu", "Dr. Smith"
	regexp.MustCompile(`(?i)\b(?:prof|conf|lect|asist|ing|dr)\.\s*(?:univ\.\s*)?(?:dr\.\s*)?(?:ing\.\s*)?\p{Lu}[\p{L}.\-]+(?:\s+\p{Lu}[\p{L}.\-]+){0,2}`),
	// "R. Slavescu", "A. D. Popescu"
	regexp.MustCompile(`\b\p{Lu}\.(?:\s?\p{Lu}\.)?\s?\p{Lu}[\p{L}\-]+\b`),
}

// honorificOnlyRe detects whether a professor match carried an honorific, so
// ties between the two patterns resolve toward the longer qualified form.
var honorificOnlyRe = regexp.MustCompile(`(?i)^(?:prof|conf|lect|asist|ing|dr)\.`)

// Group/year patterns, tried in order.
var (
	yearRe    = regexp.MustCompile(`(?i)\byear\s*([1-6])\b`)
	anulRe    = regexp.MustCompile(`(?i)\ban(?:ul)?\s*([1-6])\b`)
	grupaRe   = regexp.MustCompile(`(?i)\bgrup[ai]\s*([a-z0-9]+)\b`)
	groupRe   = regexp.MustCompile(`(?i)\bgroup\s*([a-z0-9]+)\b`)
	seriaRe   = regexp.MustCompile(`(?i)\bseria\s*([a-z0-9]+)\b`)
	compactRe = regexp.MustCompile(`\b([1-6])\s*([A-Da-d])\b`)
)

var displaySepRe = regexp.MustCompile(`\s*[-–|/,]\s*`)

// eventTypeRe strips trailing markers like "[In-person]" or "[Online]".
var eventTypeRe = regexp.MustCompile(`\s*\[[^\]]*\]\s*$`)

// ParseTitle extracts professor and group tokens from a raw event title and
// returns the remaining text as the subject. Parsing an already-normalized
// display title is a no-op.
func ParseTitle(raw string) ParsedTitle {
	var out ParsedTitle
	t := strings.TrimSpace(raw)
	if t == "" {
		return out
	}

	t = eventTypeRe.ReplaceAllString(t, "")
	for prefixRe.MatchString(t) {
		t = prefixRe.ReplaceAllString(t, "")
	}
	t = spaceRe.ReplaceAllString(t, " ")

	t, out.Professor = extractProfessor(t)
	t, out.GroupDisplay = extractGroup(t)

	// Collapse separators left dangling by the removals above.
	t = strings.Trim(t, " -–|/,")
	t = spaceRe.ReplaceAllString(t, " ")

	out.Subject = t
	out.DisplayTitle = firstClause(t)
	return out
}

func extractProfessor(t string) (rest, professor string) {
	best := ""
	for _, re := range professorRes {
		m := re.FindString(t)
		if m == "" {
			continue
		}
		// Longer, qualified matches win over bare initial+surname forms.
		if len(m) > len(best) || (len(m) == len(best) && honorificOnlyRe.MatchString(m)) {
			best = m
		}
	}
	if best == "" {
		return t, ""
	}
	rest = strings.Replace(t, best, " ", 1)
	return rest, strings.TrimSpace(best)
}

func extractGroup(t string) (rest, display string) {
	year := ""
	group := ""

	for _, re := range []*regexp.Regexp{yearRe, anulRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			year = m[1]
			t = strings.Replace(t, m[0], " ", 1)
			break
		}
	}
	for _, re := range []*regexp.Regexp{grupaRe, groupRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			group = strings.ToUpper(m[1])
			t = strings.Replace(t, m[0], " ", 1)
			break
		}
	}
	if group == "" {
		if m := seriaRe.FindStringSubmatch(t); m != nil {
			group = strings.ToUpper(m[1])
			t = strings.Replace(t, m[0], " ", 1)
		}
	}
	if year == "" && group == "" {
		if m := compactRe.FindStringSubmatch(t); m != nil {
			year = m[1]
			group = strings.ToUpper(m[2])
			t = strings.Replace(t, m[0], " ", 1)
		}
	}

	switch {
	case year != "" && group != "":
		display = "Year " + year + " • Group " + group
	case year != "":
		display = "Year " + year
	case group != "":
		display = "Group " + group
	}
	return t, display
}

func firstClause(subject string) string {
	if subject == "" {
		return ""
	}
	parts := displaySepRe.Split(subject, 2)
	first := strings.TrimSpace(parts[0])
	if first == "" {
		return subject
	}
	return first
}

// Building alias table. Longer aliases are matched first so qualified forms
// like "ac bar" win over the bare nickname.
var buildingAliases = []struct {
	alias string
	name  string
}{
	{"memorandumului", "Memorandumului"},
	{"dorobantilor", "Dorobantilor"},
	{"observatorului", "Observatorului"},
	{"baritiu", "Baritiu"},
	{"memo", "Memorandumului"},
	{"doro", "Dorobantilor"},
	{"daic", "DAIC"},
	{"obs", "Observatorului"},
	{"bar", "Baritiu"},
}

var (
	emailLocRe = regexp.MustCompile(`(?i)^utcn_room_[a-z]+_([a-z]+)_([a-z0-9\-]+)@`)
	salaRoomRe = regexp.MustCompile(`(?i)\b(?:sala|room|rm)\s*[:\-.]?\s*([a-z]{0,3}\s*\d+[a-z]?(?:\.\d+)?)`)
	lastNumRe  = regexp.MustCompile(`([A-Za-z]{0,3}\d{1,3}[A-Za-z]?(?:\.\d{1,2})?)\s*$`)
)

// ParseLocation extracts a canonical room and building from a raw location
// string, which may be a room mailbox address or human text.
func ParseLocation(raw string) ParsedLocation {
	var out ParsedLocation
	loc := strings.TrimSpace(raw)
	if loc == "" {
		return out
	}

	if m := emailLocRe.FindStringSubmatch(loc); m != nil {
		out.Building = buildingForAlias(strings.ToLower(m[1]), m[2])
		out.Room = NormalizeRoom(m[2])
		return out
	}

	lower := strings.ToLower(loc)
	if m := salaRoomRe.FindStringSubmatch(loc); m != nil {
		out.Room = NormalizeRoom(m[1])
	} else if m := lastNumRe.FindStringSubmatch(loc); m != nil {
		out.Room = NormalizeRoom(m[1])
	}

	for _, ba := range buildingAliases {
		if strings.Contains(lower, ba.alias) {
			out.Building = resolveAmbiguous(ba.alias, ba.name, out.Room)
			break
		}
	}
	if out.Building == "" {
		out.Building = resolveAmbiguous("", "", out.Room)
	}
	return out
}

func buildingForAlias(code, room string) string {
	for _, ba := range buildingAliases {
		if ba.alias == code {
			return resolveAmbiguous(code, ba.name, room)
		}
	}
	return strings.ToUpper(code)
}

// resolveAmbiguous settles generic aliases using the room text: BT-prefixed
// rooms only exist in the Baritiu building.
func resolveAmbiguous(alias, name, room string) string {
	if strings.HasPrefix(strings.ToUpper(room), "BT") {
		return "Baritiu"
	}
	return name
}

var (
	btRoomRe      = regexp.MustCompile(`(?i)^bt[-_ ]?(\d)(\d{2})$`)
	sRoomRe       = regexp.MustCompile(`(?i)^s[-_ ]?(\d)(\d)$`)
	pRoomRe       = regexp.MustCompile(`(?i)^p0?(\d+)$`)
	alnumRoomRe   = regexp.MustCompile(`^[A-Za-z]*\d+[A-Za-z]?(?:\.\d+)?$`)
	trailNumberRe = regexp.MustCompile(`(\d{1,3}[A-Za-z]?)(?:\.\d{1,2})?$`)
)

// NormalizeRoom canonicalizes a room token: "bt-503" -> "BT5.03",
// "s42" -> "S4.2", "p03" -> "P03", "26b" -> "26B".
func NormalizeRoom(tok string) string {
	t := strings.TrimSpace(tok)
	if t == "" {
		return ""
	}
	t = strings.ReplaceAll(t, " ", "")
	if m := btRoomRe.FindStringSubmatch(t); m != nil {
		return "BT" + m[1] + "." + m[2]
	}
	if m := sRoomRe.FindStringSubmatch(t); m != nil {
		return "S" + m[1] + "." + m[2]
	}
	if m := pRoomRe.FindStringSubmatch(t); m != nil {
		n := m[1]
		if len(n) == 1 {
			n = "0" + n
		}
		return "P" + n
	}
	if alnumRoomRe.MatchString(t) {
		return strings.ToUpper(t)
	}
	if m := trailNumberRe.FindStringSubmatch(t); m != nil {
		return strings.ToUpper(m[1])
	}
	return strings.ToUpper(t)
}
