package textnorm

import "testing"

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Без ПЕРЕЛЁТА":  "без перелета",
		"Ёлки, Москва!": "елки, москва!",
		"é":       "é",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Fatalf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTransliterate(t *testing.T) {
	if got := Transliterate("Рикс Премиум", false); got != "riks premium" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Transliterate("Фахрия", true); got != "phakhriya" {
		t.Fatalf("unexpected alt %q", got)
	}
}

func TestHasCyrillic(t *testing.T) {
	if !HasCyrillic("rixos Премиум") || HasCyrillic("Rixos Premium") {
		t.Fatal("unexpected cyrillic detection")
	}
}

func TestRatio(t *testing.T) {
	if Ratio("rixos", "rixos") != 1 {
		t.Fatal("identical strings must score 1")
	}
	if r := Ratio("riksos", "rixos"); r < 0.6 || r >= 1 {
		t.Fatalf("expected close similarity, got %v", r)
	}
	if Ratio("", "") != 1 {
		t.Fatal("empty strings are identical")
	}
}

func TestStripPunct(t *testing.T) {
	if got := StripPunct("Rixos  Sungate (ex. Sungate Port)"); got != "Rixos Sungate ex Sungate Port" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestUnicodeBoundaries(t *testing.T) {
	rx := MustCompile(`\b(?:аи|уаи)\b`)
	if !rx.MatchString("хочу аи") || !rx.MatchString("уаи, 5 звезд") {
		t.Fatal("expected a match on whole Cyrillic words")
	}
	if rx.MatchString("каир") {
		t.Fatal("boundary must not match inside a word")
	}
	if got := Unicode(`[^\w\s]`); got != `[^\p{L}\p{N}_\s]` {
		t.Fatalf("class rewrite = %q", got)
	}
	if !MatchAny(MustCompileAll(`нет`, `из\s+\w+`), "вылет из перми") {
		t.Fatal("expected \\w to match Cyrillic")
	}
}
