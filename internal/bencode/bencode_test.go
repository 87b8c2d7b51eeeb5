package bencode

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"testing"

	"bitswarm/internal/errs"
)

func TestDecodeInt(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"i0e", 0},
		{"i42e", 42},
		{"i-42e", -42},
		{"i9223372036854775807e", 9223372036854775807},
	}
	for _, c := range cases {
		v, n, err := Decode([]byte(c.in))
		if err != nil {
			t.Fatalf("Decode(%q): %v", c.in, err)
		}
		if n != len(c.in) {
			t.Fatalf("Decode(%q) consumed %d, want %d", c.in, n, len(c.in))
		}
		if v.Kind != KindInt || v.Int != c.want {
			t.Fatalf("Decode(%q) = %+v, want int %d", c.in, v, c.want)
		}
	}
}

func TestDecodeIntRejectsLeadingZero(t *testing.T) {
	for _, in := range []string{"i03e", "i-0e", "ie"} {
		if _, _, err := Decode([]byte(in)); !errors.Is(err, errs.ErrMalformedInt) {
			t.Fatalf("Decode(%q): got %v, want ErrMalformedInt", in, err)
		}
	}
}

func TestDecodeString(t *testing.T) {
	v, n, err := Decode([]byte("4:spam"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 6 {
		t.Fatalf("consumed %d, want 6", n)
	}
	if v.Kind != KindString || v.String() != "spam" {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeStringPreservesRawBytes(t *testing.T) {
	raw := []byte{0xff, 0x00, 0x9a}
	encoded := append([]byte("3:"), raw...)
	v, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d, want %d", n, len(encoded))
	}
	if !bytes.Equal(v.Str, raw) {
		t.Fatalf("Str = %x, want %x", v.Str, raw)
	}
}

func TestDecodeListAndDict(t *testing.T) {
	v, n, err := Decode([]byte("l4:spam4:eggse"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len("l4:spam4:eggse") {
		t.Fatalf("consumed %d", n)
	}
	if len(v.List) != 2 || v.List[0].String() != "spam" || v.List[1].String() != "eggs" {
		t.Fatalf("got %+v", v.List)
	}

	v, n, err = Decode([]byte("d3:cow3:moo4:spam4:eggse"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len("d3:cow3:moo4:spam4:eggse") {
		t.Fatalf("consumed %d", n)
	}
	if v.Dict["cow"].String() != "moo" || v.Dict["spam"].String() != "eggs" {
		t.Fatalf("got %+v", v.Dict)
	}
}

func TestEncodeDictSortsKeys(t *testing.T) {
	v := Value{Kind: KindDict, Dict: map[string]Value{
		"spam": String("eggs"),
		"cow":  String("moo"),
	}}
	got := Encode(v)
	want := "d3:cow3:moo4:spam4:eggse"
	if string(got) != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func TestRoundTripCanonicalInput(t *testing.T) {
	// Scenario 1 (spec.md 8): a canonically-ordered dict round-trips
	// byte-identically through Decode then Encode.
	original := "d4:infod6:lengthi1024e4:name8:test.txtee"
	v, n, err := Decode([]byte(original))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(original) {
		t.Fatalf("consumed %d, want %d", n, len(original))
	}
	reencoded := Encode(v)
	if string(reencoded) != original {
		t.Fatalf("round trip mismatch: got %q, want %q", reencoded, original)
	}
}

func TestRawValuePreservesNonCanonicalInfoDict(t *testing.T) {
	// Scenario 2 (spec.md 8): when a metainfo dict has non-canonical
	// key order, the info-hash must come from the raw encoded bytes of
	// the info sub-dict, not from a re-encoding of the decoded tree
	// (which would sort keys and change the hash).
	nonCanonicalInfo := "d4:name8:test.txt6:lengthi1024ee"
	metainfo := []byte("d8:announce3:foo4:info" + nonCanonicalInfo + "e")

	raw, err := RawDictEntry(metainfo, "info")
	if err != nil {
		t.Fatalf("RawDictEntry: %v", err)
	}
	if string(raw) != nonCanonicalInfo {
		t.Fatalf("raw info bytes = %q, want %q", raw, nonCanonicalInfo)
	}

	v, _, err := Decode(metainfo)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	infoVal, ok := v.Get("info")
	if !ok {
		t.Fatal("missing info key")
	}
	reencoded := Encode(infoVal)
	if string(reencoded) == nonCanonicalInfo {
		t.Fatal("test is meaningless: re-encoding happened to match raw bytes")
	}

	wantHash := sha1.Sum([]byte(nonCanonicalInfo))
	gotHash := sha1.Sum(raw)
	if hex.EncodeToString(gotHash[:]) != hex.EncodeToString(wantHash[:]) {
		t.Fatal("info-hash computed from raw bytes does not match expected")
	}
}

func TestDecodeTruncatedStringErrors(t *testing.T) {
	if _, _, err := Decode([]byte("10:short")); !errors.Is(err, errs.ErrBadLengthPrefix) {
		t.Fatalf("got %v, want ErrBadLengthPrefix", err)
	}
}

func TestDecodeUnterminatedContainerErrors(t *testing.T) {
	if _, _, err := Decode([]byte("l4:spam")); !errors.Is(err, errs.ErrMissingTerminator) {
		t.Fatalf("got %v, want ErrMissingTerminator", err)
	}
	if _, _, err := Decode([]byte("d3:key")); !errors.Is(err, errs.ErrMissingTerminator) {
		t.Fatalf("got %v, want ErrMissingTerminator", err)
	}
}

func TestDecodeDictNonStringKeyErrors(t *testing.T) {
	if _, _, err := Decode([]byte("di1e3:fooe")); !errors.Is(err, errs.ErrNonStringKey) {
		t.Fatalf("got %v, want ErrNonStringKey", err)
	}
}

func TestRawValueOnTrailingPayload(t *testing.T) {
	// The extension sub-protocol concatenates a bencoded header with a
	// raw data payload that follows it; RawValue must report exactly
	// how many bytes the header occupied so the caller can slice the
	// remainder as opaque payload.
	data := []byte("d1:ri0ee" + "rest-of-payload")
	raw, n, err := RawValue(data)
	if err != nil {
		t.Fatalf("RawValue: %v", err)
	}
	if string(raw) != "d1:ri0ee" {
		t.Fatalf("raw = %q", raw)
	}
	if string(data[n:]) != "rest-of-payload" {
		t.Fatalf("remainder = %q", data[n:])
	}
}
