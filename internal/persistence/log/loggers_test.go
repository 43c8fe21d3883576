package log

import (
	"path/filepath"
	"testing"
	"time"

	"gridpush.dev/internal/sim/world"
)

func TestTickJournalRoundTripAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	tl := NewTickLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	tl.w.now = func() time.Time { return clock }

	write := func(tick uint64) {
		t.Helper()
		err := tl.WriteTick(world.TickLogEntry{
			Tick:   tick,
			Moves:  []world.RecordedMove{{Seq: tick, ActorID: 9, Start: [3]int{0, 0, 0}, Target: [3]int{1, 0, 0}, DurationS: 0.12}},
			Digest: "d",
		})
		if err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	write(1)
	write(2)
	clock = clock.Add(2 * time.Minute)
	write(3)
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "events"), "events")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2026-03-01-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}

	var ticks []uint64
	for _, f := range files {
		err := ReadTicks(f, func(e world.TickLogEntry) error {
			if len(e.Moves) != 1 || e.Moves[0].Target != [3]int{1, 0, 0} {
				t.Fatalf("entry %+v", e)
			}
			ticks = append(ticks, e.Tick)
			return nil
		})
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[2] != 3 {
		t.Fatalf("ticks=%v", ticks)
	}
}

func TestReopenAppendsNewFrame(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "audit", Options{})
		w.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
		if err := w.Write(world.TickLogEntry{Tick: uint64(i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	files, _ := ListFiles(dir, "audit")
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	n := 0
	if err := ReadTicks(files[0], func(world.TickLogEntry) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("read %d entries across appended frames, want 2", n)
	}
}

func TestOnCloseSeesEverySegment(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	tl := NewTickLoggerWithOptions(dir, Options{
		RotateLayout: "2006-01-02-15-04",
		OnClose:      func(p string) { closed = append(closed, filepath.Base(p)) },
	})
	clock := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
	tl.w.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if err := tl.WriteTick(world.TickLogEntry{Tick: uint64(i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
		clock = clock.Add(time.Minute)
	}
	if len(closed) != 2 {
		t.Fatalf("closed before Close: %v", closed)
	}
	_ = tl.Close()
	_ = tl.Close()
	want := []string{
		"events-2026-05-02-08-30.jsonl.zst",
		"events-2026-05-02-08-31.jsonl.zst",
		"events-2026-05-02-08-32.jsonl.zst",
	}
	if len(closed) != len(want) {
		t.Fatalf("closed=%v", closed)
	}
	for i := range want {
		if closed[i] != want[i] {
			t.Fatalf("closed[%d]=%s want %s", i, closed[i], want[i])
		}
	}
}
