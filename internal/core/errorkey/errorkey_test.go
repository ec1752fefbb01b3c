package errorkey

import "testing"

func TestExtractTypeScript(t *testing.T) {
	out := "lib/auth.js(12,3): error TS2322: Type 'string' is not assignable"
	got := Extract("typecheck", "", out)
	want := "typecheck:TS2322:lib/auth.js"
	if got != want {
		t.Fatalf("Extract() = %q, want %q", got, want)
	}
}

func TestExtractTestFile(t *testing.T) {
	out := "✗ renders the button correctly"
	got := Extract("test", "components/Button.test.tsx", out)
	if got != "test:components/Button.test.tsx:renders_the_button_correctly" {
		t.Fatalf("Extract() = %q", got)
	}
}

func TestExtractLint(t *testing.T) {
	out := "src/utils/format.ts\n  12:3  error  no-unused-vars"
	got := Extract("lint", "", out)
	if got != "lint:no-unused-vars:src/utils/format.ts" {
		t.Fatalf("Extract() = %q", got)
	}
}

func TestExtractFallback(t *testing.T) {
	got := Extract("build", "", "some opaque failure with no markers")
	if got != "build:unknown" {
		t.Fatalf("Extract() = %q, want build:unknown", got)
	}
}

func TestExtractMarkersDedupsAndCaps(t *testing.T) {
	out := "Error: first failure message\nError: first failure message\nError: second failure message\nError: third failure message\nError: fourth failure message\nError: fifth failure message\nError: sixth failure message"
	got := ExtractMarkers(out)
	if len(got) > 5 {
		t.Fatalf("ExtractMarkers returned %d, want <= 5", len(got))
	}
	if got[0] != "first failure message" {
		t.Fatalf("ExtractMarkers()[0] = %q, want %q", got[0], "first failure message")
	}
}

func TestExtractMarkersTypeScript(t *testing.T) {
	out := "lib/auth.js(12,3): error TS2322: Type 'string' is not assignable to type 'number'"
	got := ExtractMarkers(out)
	if len(got) != 1 || got[0] != "Type 'string' is not assignable to type 'number'" {
		t.Fatalf("ExtractMarkers() = %v", got)
	}
}

func TestExtractMarkersRust(t *testing.T) {
	out := "error[E0308]: mismatched types, expected struct Foo, found struct Bar"
	got := ExtractMarkers(out)
	if len(got) != 1 || got[0] != "mismatched types, expected struct Foo, found struct Bar" {
		t.Fatalf("ExtractMarkers() = %v", got)
	}
}

func TestExtractMarkersFail(t *testing.T) {
	out := "FAIL tests/auth.spec.ts > login rejects bad password"
	got := ExtractMarkers(out)
	if len(got) != 1 || got[0] != "tests/auth.spec.ts > login rejects bad password" {
		t.Fatalf("ExtractMarkers() = %v", got)
	}
}

func TestExtractMarkersIgnoresShortMessages(t *testing.T) {
	out := "Error: no\nFAIL x"
	got := ExtractMarkers(out)
	if len(got) != 0 {
		t.Fatalf("ExtractMarkers() = %v, want none (messages below the 10-char minimum)", got)
	}
}

func TestPrefix(t *testing.T) {
	if got := Prefix("typecheck:TS2322:lib/auth.js"); got != "typecheck:TS2322" {
		t.Fatalf("Prefix() = %q", got)
	}
	if got := Prefix("build:unknown"); got != "build:unknown" {
		t.Fatalf("Prefix() = %q", got)
	}
}
