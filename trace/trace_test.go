// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// writeSampleTrace writes a short two-direction exchange and closes
// the writer.
func writeSampleTrace(t *testing.T, path string) {
	t.Helper()

	writer, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := writer.Append("", DirectionIn, []byte(`{"kind":"command","action":"list"}`)); err != nil {
		t.Fatalf("Append in: %v", err)
	}
	if err := writer.Append("", DirectionOut, []byte(`{"kind":"success","body":{"items":[]}}`)); err != nil {
		t.Fatalf("Append out: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.trace")
	writeSampleTrace(t, path)

	records, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	if records[0].Dir != DirectionIn {
		t.Errorf("record 0 direction: got %q, want %q", records[0].Dir, DirectionIn)
	}
	if !bytes.Equal(records[0].Line, []byte(`{"kind":"command","action":"list"}`)) {
		t.Errorf("record 0 line: got %q", records[0].Line)
	}
	if records[1].Dir != DirectionOut {
		t.Errorf("record 1 direction: got %q, want %q", records[1].Dir, DirectionOut)
	}
	if records[0].Time == 0 || records[1].Time == 0 {
		t.Error("records missing capture time")
	}
	if records[1].Time < records[0].Time {
		t.Error("records out of capture order")
	}
}

func TestCompressedTrace(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "plain.trace")
	compressedPath := filepath.Join(dir, "compressed.trace.zst")

	// Repetitive JSON lines, so compression has something to work
	// with.
	line := []byte(`{"kind":"signal","status":"touch-required","body":{"slot":"9a"}}`)
	for _, path := range []string{plainPath, compressedPath} {
		writer, err := Create(path)
		if err != nil {
			t.Fatalf("Create %s: %v", path, err)
		}
		for i := 0; i < 200; i++ {
			if err := writer.Append("s1", DirectionOut, line); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	records, err := ReadFile(compressedPath)
	if err != nil {
		t.Fatalf("ReadFile compressed: %v", err)
	}
	if len(records) != 200 {
		t.Fatalf("got %d records, want 200", len(records))
	}
	if !bytes.Equal(records[199].Line, line) {
		t.Errorf("last record line: got %q", records[199].Line)
	}
	if records[0].Session != "s1" {
		t.Errorf("session label: got %q, want %q", records[0].Session, "s1")
	}

	plainInfo, err := os.Stat(plainPath)
	if err != nil {
		t.Fatal(err)
	}
	compressedInfo, err := os.Stat(compressedPath)
	if err != nil {
		t.Fatal(err)
	}
	if compressedInfo.Size() >= plainInfo.Size() {
		t.Errorf("compression not effective: compressed=%d bytes, plain=%d bytes",
			compressedInfo.Size(), plainInfo.Size())
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.trace")
	writer, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Append("", DirectionIn, []byte("{}")); err == nil {
		t.Error("Append after Close should fail")
	}
	// Second Close is a no-op.
	if err := writer.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.trace")
	writer, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Both session directions append at once, the way a transport's
	// reader and dispatcher goroutines do.
	var group sync.WaitGroup
	for _, dir := range []Direction{DirectionIn, DirectionOut} {
		group.Add(1)
		go func(dir Direction) {
			defer group.Done()
			for i := 0; i < 50; i++ {
				line := fmt.Appendf(nil, `{"kind":"signal","status":"n%d"}`, i)
				if err := writer.Append("", dir, line); err != nil {
					t.Errorf("Append %s: %v", dir, err)
					return
				}
			}
		}(dir)
	}
	group.Wait()

	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 100 {
		t.Fatalf("got %d records, want 100", len(records))
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.trace"))
	if err == nil {
		t.Error("ReadFile on a missing file should fail")
	}
}
