package meta

import "testing"

func TestFeed(t *testing.T) {
	for _, tc := range []struct {
		name       string
		line       string
		want       Update
		recognized bool
	}{
		{
			name:       "talkgroup with colon",
			line:       "TG: 31001",
			want:       Update{TalkGroup: "31001"},
			recognized: true,
		},
		{
			name:       "talkgroup with equals",
			line:       "Talkgroup=12345",
			want:       Update{TalkGroup: "12345"},
			recognized: true,
		},
		{
			name:       "source id",
			line:       "SRC: 201",
			want:       Update{SourceID: "201"},
			recognized: true,
		},
		{
			name:       "target id",
			line:       "DST: 31001",
			want:       Update{TargetID: "31001"},
			recognized: true,
		},
		{
			name:       "slot",
			line:       "Slot: 1",
			want:       Update{Slot: "1"},
			recognized: true,
		},
		{
			name:       "call type is normalized",
			line:       "Call: GROUP",
			want:       Update{CallType: "Group"},
			recognized: true,
		},
		{
			name:       "combined line",
			line:       "Slot 2 TG=31001 SRC=201 Group Call",
			want:       Update{TalkGroup: "31001", SourceID: "201", Slot: "2"},
			recognized: true,
		},
		{
			name:       "encrypted",
			line:       "Privacy mode active",
			want:       Update{Encrypted: "Yes"},
			recognized: true,
		},
		{
			name:       "enc keyword",
			line:       "ENC detected on slot 1",
			want:       Update{Encrypted: "Yes", Slot: "1"},
			recognized: true,
		},
		{
			name:       "clear overrides encryption hint",
			line:       "Encrypted: clear",
			want:       Update{Encrypted: "No"},
			recognized: true,
		},
		{
			name:       "enc must be a whole word",
			line:       "retuning frequency 155.825 MHz",
			want:       Update{},
			recognized: false,
		},
		{
			name:       "decoder chatter",
			line:       "NOCARRIER",
			want:       Update{},
			recognized: false,
		},
		{
			name:       "empty line",
			line:       "",
			want:       Update{},
			recognized: false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, recognized := Feed(tc.line)
			if recognized != tc.recognized {
				t.Errorf("Feed(%q) recognized = %v, want %v", tc.line, recognized, tc.recognized)
			}
			if got != tc.want {
				t.Errorf("Feed(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}
