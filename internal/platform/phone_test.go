package platform

import "testing"

func TestNormalizePhonePunctuation(t *testing.T) {
	variants := []string{
		"+1 206-555-1234",
		"+1 (206) 555-1234",
		"12065551234",
		"+12065551234",
		"1 206 555 1234",
	}
	want := NormalizePhone(variants[0])
	if want == "" {
		t.Fatalf("NormalizePhone(%q) returned empty", variants[0])
	}
	for _, v := range variants[1:] {
		if got := NormalizePhone(v); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestSamePhone(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"+1 206-555-1234", "12065551234", true},
		{"+1 (206) 555-1234", "+12065551234", true},
		{"2065551234", "+1 206 555 1234", true}, // missing country code, suffix match
		{"+12065551234", "+12065559999", false},
		{"", "12065551234", false},
		{"abc", "12065551234", false},
	}
	for _, c := range cases {
		if got := SamePhone(c.a, c.b); got != c.want {
			t.Errorf("SamePhone(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("+1 (206) 555-1234"); got != "12065551234" {
		t.Errorf("Digits = %q", got)
	}
	if got := Digits("no digits"); got != "" {
		t.Errorf("Digits = %q, want empty", got)
	}
}

func TestParsePlatform(t *testing.T) {
	for _, valid := range []string{"", "messages", "telegram"} {
		if _, err := Parse(valid); err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", valid, err)
		}
	}
	if _, err := Parse("whatsapp"); err == nil {
		t.Error("Parse(whatsapp) should fail")
	}
}

func TestPriorityOrder(t *testing.T) {
	if Messages.Priority() >= Telegram.Priority() {
		t.Errorf("messages priority %d should rank before telegram %d",
			Messages.Priority(), Telegram.Priority())
	}
}
