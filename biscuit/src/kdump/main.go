// Command kdump renders an offline diagnostic view of a frame table
// snapshot: a pprof profile of frame usage, a locale-formatted summary of
// pinned/shared/private frame counts, and (given a raw instruction byte
// string) a disassembly of the faulting instruction, the way a real
// kernel's oops dump prints the bytes around the faulting RIP.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/mod/semver"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"caller"
	"frame"
	"limits"
	"mem"
	"stats"
)

// formatVersion is stamped into every profile this tool writes, so a
// consumer reading kdump.pprof files produced by different kdump builds
// can tell whether its own parser is new enough to understand them.
const formatVersion = "v1.1.0"

func main() {
	in := flag.String("in", "", "path to a JSON []frame.SnapshotEntry dump")
	out := flag.String("out", "kdump.pprof", "path to write the pprof profile to")
	instr := flag.String("instr", "", "hex-encoded bytes at the faulting instruction pointer")
	lang := flag.String("lang", "en", "BCP 47 locale tag for formatted counters")
	minVersion := flag.String("min-format-version", "", "refuse to write a profile older than this semver (optional)")
	flag.Parse()

	p := message.NewPrinter(language.MustParse(*lang))

	if *minVersion != "" {
		if err := checkFormatVersion(*minVersion); err != nil {
			log(p, "kdump: %v\n", err)
			os.Exit(1)
		}
	}

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}
	entries, err := loadSnapshot(*in)
	if err != nil {
		log(p, "kdump: %v\n", err)
		os.Exit(1)
	}

	summarize(p, entries)

	if err := writeProfile(*out, entries); err != nil {
		log(p, "kdump: writing profile: %v\n", err)
		os.Exit(1)
	}
	log(p, "kdump: wrote %s\n", *out)

	if *instr != "" {
		if err := disasm(p, *instr); err != nil {
			log(p, "kdump: disassembly: %v\n", err)
		}
	}

	if os.Getenv("KDUMP_TRACE") != "" {
		caller.Callerdump(1)
	}
}

func log(p *message.Printer, format string, a ...interface{}) {
	p.Fprintf(os.Stderr, format, a...)
}

// checkFormatVersion rejects min if it isn't a valid semver, or if this
// build's formatVersion is older than min.
func checkFormatVersion(min string) error {
	if !semver.IsValid(min) {
		return fmt.Errorf("%q is not a valid semver", min)
	}
	if semver.Compare(formatVersion, min) < 0 {
		return fmt.Errorf("this build's format version %s is older than the requested minimum %s",
			formatVersion, min)
	}
	return nil
}

func loadSnapshot(path string) ([]frame.SnapshotEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var entries []frame.SnapshotEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entries, nil
}

// summarize prints per-category frame counts, locale-formatted, and a
// stats.Stats2String dump of the same counts (empty unless stats.Stats
// was compiled on, matching the rest of the tree's stats convention).
func summarize(p *message.Printer, entries []frame.SnapshotEntry) {
	var counts struct {
		Pinned  stats.Counter_t
		Shared  stats.Counter_t
		Private stats.Counter_t
	}
	for _, e := range entries {
		if e.Pinned {
			counts.Pinned++
		}
		if e.Shared {
			counts.Shared++
		} else {
			counts.Private++
		}
	}

	p.Printf("frames: %d total, %d pinned, %d shared, %d private\n",
		len(entries), counts.Pinned, counts.Shared, counts.Private)
	p.Printf("limits: %d pinned frames remaining, %d mmap entries remaining\n",
		limits.Syslimit.Pinnedframes, limits.Syslimit.Mmaps)
	if s := stats.Stats2String(counts); s != "" {
		p.Printf("%s", s)
	}
}

// writeProfile builds a pprof profile.Profile with one sample per frame,
// tagged with its category, so frame-table composition over time can be
// inspected with the standard pprof tool (`pprof -tags kdump.pprof`).
func writeProfile(path string, entries []frame.SnapshotEntry) error {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "frames", Unit: "count"},
			{Type: "space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     int64(mem.PGSIZE),
		Comments:   []string{"kdump-format-version: " + formatVersion},
	}
	for _, e := range entries {
		label := "private"
		if e.Shared {
			label = "shared"
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Value: []int64{1, int64(mem.PGSIZE)},
			Label: map[string][]string{
				"category": {label},
				"pa":       {fmt.Sprintf("%#x", uintptr(e.Pa))},
			},
			NumLabel: map[string][]int64{
				"owners": {int64(e.NumOwners)},
			},
		})
	}
	if err := prof.CheckValid(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return prof.Write(f)
}

// disasm decodes and prints the first x86-64 instruction in hexBytes, the
// way a kernel oops dump decodes the "Code:" bytes captured around a
// faulting RIP.
func disasm(p *message.Printer, hexBytes string) error {
	raw, err := hex.DecodeString(hexBytes)
	if err != nil {
		return fmt.Errorf("decoding hex: %w", err)
	}
	inst, err := x86asm.Decode(raw, 64)
	if err != nil {
		return fmt.Errorf("decoding instruction: %w", err)
	}
	p.Printf("faulting instruction: %s (%d bytes)\n", x86asm.GNUSyntax(inst, 0, nil), inst.Len)
	return nil
}
