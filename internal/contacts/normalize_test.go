package contacts

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"1234567890", "+11234567890", true},
		{"11234567890", "+11234567890", true},
		{"+1234567890", "+11234567890", true},
		{"(212) 555-0100", "+12125550100", true},
		{"1-212-555-0100", "+12125550100", true},
		{"+44 20 7183 8750", "+442071838750", true},
		{"123", "", false},
		{"21234567890", "", false},
		{"", "", false},
		{"+", "", false},
		{"not a number", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("NormalizePhone(%q): expected (%q, %v), got (%q, %v)", tc.in, tc.want, tc.wantOK, got, ok)
		}
	}
}
