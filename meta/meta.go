// Package meta extracts structured call metadata from the textual output of
// the protocol decoder, one line at a time.
package meta

import (
	"regexp"
	"strings"
)

// Update carries the fields recognized on a single decoder line. Empty
// fields were not mentioned on the line.
type Update struct {
	TalkGroup string
	SourceID  string
	TargetID  string
	Slot      string
	CallType  string
	// Encrypted is "Yes" or "No" when the line carries an encryption hint,
	// empty otherwise.
	Encrypted string
}

// Label patterns as emitted by dsd-fme builds, e.g. "TG=12345", "TGT: 12345",
// "Talkgroup 12345", "SRC: 201", "Slot=1", "Call: Group".
var (
	talkGroupRe = regexp.MustCompile(`(?i)(?:TG|TGT|Talkgroup)[=:\s]+(\d+)`)
	sourceRe    = regexp.MustCompile(`(?i)(?:SRC|Source)[=:\s]+(\d+)`)
	targetRe    = regexp.MustCompile(`(?i)(?:DST|To|Tgt)[=:\s]+(\d+)`)
	slotRe      = regexp.MustCompile(`(?i)Slot[=:\s]+(\d+)`)
	callTypeRe  = regexp.MustCompile(`(?i)Call[=:\s]+([A-Za-z]+)`)
	encRe       = regexp.MustCompile(`(?i)\b(?:enc|encrypted|privacy)\b`)
	clearRe     = regexp.MustCompile(`(?i)\bclear\b`)
)

// Feed parses one line of decoder output. It returns the recognized fields
// and whether the line carried any. Unrecognized lines are expected decoder
// chatter, not an error.
func Feed(line string) (Update, bool) {
	u := Update{}
	recognized := false

	if encRe.MatchString(line) {
		u.Encrypted = "Yes"
		if clearRe.MatchString(line) {
			u.Encrypted = "No"
		}
		recognized = true
	}
	if m := talkGroupRe.FindStringSubmatch(line); m != nil {
		u.TalkGroup = m[1]
		recognized = true
	}
	if m := sourceRe.FindStringSubmatch(line); m != nil {
		u.SourceID = m[1]
		recognized = true
	}
	if m := targetRe.FindStringSubmatch(line); m != nil {
		u.TargetID = m[1]
		recognized = true
	}
	if m := slotRe.FindStringSubmatch(line); m != nil {
		u.Slot = m[1]
		recognized = true
	}
	if m := callTypeRe.FindStringSubmatch(line); m != nil {
		u.CallType = title(m[1])
		recognized = true
	}

	return u, recognized
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
