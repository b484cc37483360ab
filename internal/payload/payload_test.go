package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
)

func mustDecode(t *testing.T, s string) Value {
	t.Helper()
	v, err := Decode([]byte(s))
	if err != nil {
		t.Fatalf("Decode(%q) error = %v", s, err)
	}
	return v
}

func TestDecodePreservesOrderAndLiterals(t *testing.T) {
	v := mustDecode(t, `{"zeta":1.50,"alpha":[true,null,"x"],"mid":{"b":-3e2,"a":0}}`)

	obj, ok := v.(Object)
	if !ok {
		t.Fatalf("Decode() kind = %v, want object", v.Kind())
	}

	keys := obj.Keys()
	want := []string{"zeta", "alpha", "mid"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	zeta, _ := obj.Get("zeta")
	if zeta != Number("1.50") {
		t.Errorf("zeta = %#v, want Number(\"1.50\")", zeta)
	}

	got, err := Canonical(v)
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if string(got) != `{"zeta":1.50,"alpha":[true,null,"x"],"mid":{"b":-3e2,"a":0}}` {
		t.Errorf("Canonical() = %s", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "truncated object", input: `{"a":`},
		{name: "trailing garbage", input: `{"a":1} x`},
		{name: "two documents", input: `{"a":1}{"b":2}`},
		{name: "unbalanced array", input: `[1,2]]`},
		{name: "bare word", input: `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.input, err)
			}
		})
	}
}

func TestDecodeBlankIsNull(t *testing.T) {
	v := mustDecode(t, " \n\t ")
	if v.Kind() != KindNull {
		t.Errorf("Decode(blank) kind = %v, want null", v.Kind())
	}
	if !IsEmpty(v) {
		t.Error("blank document should be empty")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{name: "identical", a: `{"id":1,"name":"Acme"}`, b: `{"id":1,"name":"Acme"}`, same: true},
		{name: "whitespace only", a: `{"id":1,"name":"Acme"}`, b: "{ \"id\" : 1,\n \"name\": \"Acme\" }", same: true},
		{name: "nfc equivalent strings", a: `{"n":"café"}`, b: `{"n":"cafe\u0301"}`, same: true},
		{name: "different value", a: `{"key":"value"}`, b: `{"key":"different"}`, same: false},
		{name: "different key order", a: `{"a":1,"b":2}`, b: `{"b":2,"a":1}`, same: false},
		{name: "different number literal", a: `[1]`, b: `[1.0]`, same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa, err := Fingerprint(mustDecode(t, tt.a))
			if err != nil {
				t.Fatalf("Fingerprint(a) error = %v", err)
			}
			fb, err := Fingerprint(mustDecode(t, tt.b))
			if err != nil {
				t.Fatalf("Fingerprint(b) error = %v", err)
			}
			if (fa == fb) != tt.same {
				t.Errorf("Fingerprint equality = %v, want %v (a=%s b=%s)", fa == fb, tt.same, fa, fb)
			}
			if len(fa) != 64 {
				t.Errorf("len(Fingerprint) = %d, want 64", len(fa))
			}
		})
	}
}

func TestFingerprintIsDigestOfCanonicalForm(t *testing.T) {
	v := mustDecode(t, `{"id":1,"name":"Acme"}`)

	sum := sha256.Sum256([]byte(`{"id":1,"name":"Acme"}`))
	want := hex.EncodeToString(sum[:])

	got, err := Fingerprint(v)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if got != want {
		t.Errorf("Fingerprint() = %s, want %s", got, want)
	}
}

func TestCanonicalDoesNotEscapeHTML(t *testing.T) {
	got, err := Canonical(mustDecode(t, `{"x":"<a & b>"}`))
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if string(got) != `{"x":"<a & b>"}` {
		t.Errorf("Canonical() = %s", got)
	}
}

func TestCanonicalRejectsInvalidNumber(t *testing.T) {
	tests := []Number{"", "abc", "01x", "+1"}
	for _, n := range tests {
		if _, err := Canonical(Array{n}); err == nil {
			t.Errorf("Canonical(%q) should fail", string(n))
		}
	}
}

func TestMarshalJSONUsesCanonicalForm(t *testing.T) {
	wrapper := struct {
		Data Value `json:"data"`
	}{Data: mustDecode(t, `{"b":1,"a":[null,false]}`)}

	got, err := json.Marshal(wrapper)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(got) != `{"data":{"b":1,"a":[null,false]}}` {
		t.Errorf("json.Marshal() = %s", got)
	}
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: `null`, want: true},
		{input: `[]`, want: true},
		{input: `{}`, want: true},
		{input: `""`, want: true},
		{input: `0`, want: true},
		{input: `0.0`, want: true},
		{input: `false`, want: true},
		{input: `true`, want: false},
		{input: `"x"`, want: false},
		{input: `12`, want: false},
		{input: `[0]`, want: false},
		{input: `{"id":1}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsEmpty(mustDecode(t, tt.input)); got != tt.want {
				t.Errorf("IsEmpty(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCountAndIsCollection(t *testing.T) {
	tests := []struct {
		input      string
		count      int
		collection bool
	}{
		{input: `{"id":1,"name":"Acme"}`, count: 2, collection: true},
		{input: `[1,2,3]`, count: 3, collection: true},
		{input: `"text"`, count: 1, collection: false},
		{input: `null`, count: 0, collection: false},
	}

	for _, tt := range tests {
		v := mustDecode(t, tt.input)
		if got := Count(v); got != tt.count {
			t.Errorf("Count(%s) = %d, want %d", tt.input, got, tt.count)
		}
		if got := IsCollection(v); got != tt.collection {
			t.Errorf("IsCollection(%s) = %v, want %v", tt.input, got, tt.collection)
		}
	}
}
