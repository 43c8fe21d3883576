package protocol

import "testing"

func TestMovedRoundTripBothEncodings(t *testing.T) {
	in := MovedMsg{
		Type:      TypeMoved,
		Seq:       7,
		Tick:      42,
		ActorID:   3,
		Start:     [3]int{0, 0, 0},
		Target:    [3]int{1, 0, -1},
		DurationS: 0.06,
	}
	for _, enc := range []Encoding{EncodingJSON, EncodingMsgpack} {
		b, err := Encode(enc, in)
		if err != nil {
			t.Fatalf("%s encode: %v", enc, err)
		}
		base, err := DecodeBaseAs(enc, b)
		if err != nil || base.Type != TypeMoved {
			t.Fatalf("%s base: %+v %v", enc, base, err)
		}
		var out MovedMsg
		if err := Decode(enc, b, &out); err != nil {
			t.Fatalf("%s decode: %v", enc, err)
		}
		if out != in {
			t.Fatalf("%s mismatch: got %+v want %+v", enc, out, in)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	if ParseEncoding("msgpack") != EncodingMsgpack || ParseEncoding("") != EncodingJSON || ParseEncoding("xml") != EncodingJSON {
		t.Fatalf("ParseEncoding fallback broken")
	}
	if !EncodingMsgpack.Binary() || EncodingJSON.Binary() {
		t.Fatalf("Binary() mismatch")
	}
}
