package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gridpush.dev/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through encoding/json so numbers and arrays take the generic
	// shapes the validator expects.
	asAny := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(asAny(v)); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	moveSchema := compile("move.schema.json")
	movedSchema := compile("moved.schema.json")

	validate(helloSchema, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            "bot1",
		Role:            protocol.RolePlayer,
		Encoding:        string(protocol.EncodingMsgpack),
	})

	validate(welcomeSchema, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "2f1c0c7e-6a4e-4d57-9f0e-2b8f3f0b8a11",
		ActorID:         9,
		Tick:            12,
		Params:          protocol.WorldParams{TickRateHz: 60, MoveDurationS: 0.12, LevelName: "demo"},
		Entities: []protocol.EntityState{
			{ID: 1, Mask: []string{"SOLID"}, Cell: [3]int{0, -1, 0}, Tint: 1},
			{ID: 9, Mask: []string{"SOLID", "PLAYER"}, Cell: [3]int{0, 0, 0}},
		},
		Digest: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	})

	validate(moveSchema, protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		Dir:             "EAST",
		Seq:             3,
	})

	validate(movedSchema, protocol.MovedMsg{
		Type:      protocol.TypeMoved,
		Seq:       1,
		Tick:      12,
		ActorID:   9,
		Start:     [3]int{0, 0, 0},
		Target:    [3]int{1, 0, 0},
		DurationS: 0.04,
	})

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"MOVE","protocol_version":"1.0","dir":"UP"}`), &bad)
	if err := moveSchema.Validate(bad); err == nil {
		t.Fatalf("expected vertical direction to be rejected by the schema")
	}
}
