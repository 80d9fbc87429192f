package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"frame"
)

func newTestPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

func writeSnapshot(t *testing.T, entries []frame.SnapshotEntry) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.json")
	b, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadSnapshotRoundTrip(t *testing.T) {
	want := []frame.SnapshotEntry{
		{Pa: 0x1000, NumOwners: 1, Writable: true, Pinned: true},
		{Pa: 0x2000, NumOwners: 2, Shared: true},
	}
	path := writeSnapshot(t, want)

	got, err := loadSnapshot(path)
	if err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	if got[0].Pa != want[0].Pa || !got[0].Pinned {
		t.Fatalf("first entry round-tripped wrong: %+v", got[0])
	}
	if !got[1].Shared || got[1].NumOwners != 2 {
		t.Fatalf("second entry round-tripped wrong: %+v", got[1])
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	if _, err := loadSnapshot(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected an error for a missing snapshot file")
	}
}

func TestWriteProfileProducesValidOutput(t *testing.T) {
	entries := []frame.SnapshotEntry{
		{Pa: 0x1000, NumOwners: 1, Writable: true},
		{Pa: 0x2000, NumOwners: 3, Shared: true},
	}
	path := filepath.Join(t.TempDir(), "out.pprof")
	if err := writeProfile(path, entries); err != nil {
		t.Fatalf("writeProfile: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if fi.Size() == 0 {
		t.Fatal("expected a non-empty pprof file")
	}
}

func TestDisasmDecodesKnownInstruction(t *testing.T) {
	p := newTestPrinter()
	// 0f 05 is SYSCALL on x86-64.
	if err := disasm(p, "0f05"); err != nil {
		t.Fatalf("disasm: %v", err)
	}
}

func TestDisasmRejectsBadHex(t *testing.T) {
	p := newTestPrinter()
	if err := disasm(p, "not-hex"); err == nil {
		t.Fatal("expected an error decoding invalid hex")
	}
}

func TestCheckFormatVersionAcceptsOlderMinimum(t *testing.T) {
	if err := checkFormatVersion("v1.0.0"); err != nil {
		t.Fatalf("checkFormatVersion: %v", err)
	}
}

func TestCheckFormatVersionRejectsNewerMinimum(t *testing.T) {
	if err := checkFormatVersion("v99.0.0"); err == nil {
		t.Fatal("expected an error for a minimum newer than this build")
	}
}

func TestCheckFormatVersionRejectsInvalidSemver(t *testing.T) {
	if err := checkFormatVersion("not-a-version"); err == nil {
		t.Fatal("expected an error for an invalid semver string")
	}
}

func TestWriteProfileStampsFormatVersion(t *testing.T) {
	entries := []frame.SnapshotEntry{{Pa: 0x1000, NumOwners: 1}}
	path := filepath.Join(t.TempDir(), "out.pprof")
	if err := writeProfile(path, entries); err != nil {
		t.Fatalf("writeProfile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	prof, err := profile.Parse(f)
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	found := false
	for _, c := range prof.Comments {
		if c == "kdump-format-version: "+formatVersion {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a kdump-format-version comment, got %v", prof.Comments)
	}
}
