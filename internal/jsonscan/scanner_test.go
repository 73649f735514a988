package jsonscan

import "testing"

func TestFindString_Basic(t *testing.T) {
	v, ok := FindString(`{"thought":"hi","action":"calculate"}`, "action")
	if !ok || v != "calculate" {
		t.Fatalf("expected calculate, got %q ok=%v", v, ok)
	}
}

func TestFindString_NonConfusion(t *testing.T) {
	// a key name occurring inside a string *value* must not match.
	text := `{"note":"the \"k\" field","k":"real"}`
	v, ok := FindString(text, "k")
	if !ok || v != "real" {
		t.Fatalf("expected to find the real key, got %q ok=%v", v, ok)
	}
}

func TestFindString_NestedAnyDepth(t *testing.T) {
	text := `{"args":{"expression":"1+1"}}`
	v, ok := FindString(text, "expression")
	if !ok || v != "1+1" {
		t.Fatalf("expected nested key lookup to succeed, got %q ok=%v", v, ok)
	}
}

func TestFindInt_FindFloat_FindBool(t *testing.T) {
	text := `{"n":42,"f":3.5,"b":true,"bf":false}`
	if got := FindInt(text, "n", -1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := FindFloat(text, "f", -1); got != 3.5 {
		t.Fatalf("expected 3.5, got %v", got)
	}
	if got := FindBool(text, "b", false); !got {
		t.Fatalf("expected true")
	}
	if got := FindBool(text, "bf", true); got {
		t.Fatalf("expected false")
	}
	if got := FindInt(text, "missing", -7); got != -7 {
		t.Fatalf("expected fallback -7, got %d", got)
	}
}

func TestExtractObjectArray_BraceBalance(t *testing.T) {
	text := `{"args":{"a":1,"nested":{"b":[1,2,{"c":"}"}]}},"other":1}`
	obj, ok := ExtractObject(text, "args")
	if !ok {
		t.Fatalf("expected to extract args object")
	}
	if obj[0] != '{' || obj[len(obj)-1] != '}' {
		t.Fatalf("expected balanced braces, got %q", obj)
	}
	arr, ok := ExtractArray(text, "b")
	if !ok {
		t.Fatalf("expected to extract array b")
	}
	if arr[0] != '[' || arr[len(arr)-1] != ']' {
		t.Fatalf("expected balanced brackets, got %q", arr)
	}
}

func TestExtractObject_StringWithBraces(t *testing.T) {
	text := `{"args":{"expr":"{not a brace}"}}`
	obj, ok := ExtractObject(text, "args")
	if !ok {
		t.Fatalf("expected to extract args object")
	}
	if obj != `{"expr":"{not a brace}"}` {
		t.Fatalf("unexpected extraction: %q", obj)
	}
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := []string{
		"hello",
		"line\nbreak",
		"quote\"inside",
		"tab\tand\\backslash",
		"control\x01char",
		"emoji: \U0001F600",
	}
	for _, c := range cases {
		got := Unescape(Escape(c))
		if got != c {
			t.Fatalf("round-trip mismatch: in=%q escaped=%q out=%q", c, Escape(c), got)
		}
	}
}

func TestUnescape_UnicodeEscape(t *testing.T) {
	got := Unescape(`caf\u00e9`)
	if got != "caf\u00e9" {
		t.Fatalf("expected escaped e-acute to decode, got %q", got)
	}
}

func TestUnescape_SurrogatePair(t *testing.T) {
	// U+1F600 GRINNING FACE encoded as a UTF-16 surrogate pair.
	got := Unescape(`\ud83d\ude00`)
	if got != "\U0001F600" {
		t.Fatalf("expected grinning face emoji, got %q", got)
	}
}
