package data

import (
	"bytes"
	"os"
	"testing"
)

func TestFile_WriteRead_RoundTrip(t *testing.T) {
	f := NewFile("fid-1", t.TempDir())
	data := []byte("hello world")
	ok, addedMem, addedDisk, err := f.write(0, data, true)
	if err != nil || !ok {
		t.Fatalf("write failed: ok=%v err=%v", ok, err)
	}
	if addedMem != int64(len(data)) || addedDisk != 0 {
		t.Fatalf("addedMem=%d addedDisk=%d, want %d/0", addedMem, addedDisk, len(data))
	}

	out, misses, err := f.read(0, int64(len(data)))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(misses) != 0 {
		t.Fatalf("expected no misses, got %v", misses)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("read = %q, want %q", out, data)
	}
}

func TestFile_Read_ReportsMissesAndZeroFillsPastEOF(t *testing.T) {
	f := NewFile("fid-2", t.TempDir())
	if _, _, _, err := f.write(10, []byte("abcde"), true); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, misses, err := f.read(0, 20)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 20 {
		t.Fatalf("len(out) = %d, want 20", len(out))
	}
	for i := 0; i < 10; i++ {
		if out[i] != 0 {
			t.Fatalf("out[%d] = %d, want 0 (gap before page)", i, out[i])
		}
	}
	if !bytes.Equal(out[10:15], []byte("abcde")) {
		t.Fatalf("out[10:15] = %q, want abcde", out[10:15])
	}
	for i := 15; i < 20; i++ {
		if out[i] != 0 {
			t.Fatalf("out[%d] = %d, want 0 (past EOF)", i, out[i])
		}
	}

	if len(misses) != 1 || misses[0].Offset != 0 || misses[0].Length != 10 {
		t.Fatalf("misses = %v, want one range {0,10} (past-EOF tail must not be reported)", misses)
	}
}

func TestFile_Write_CoalescesAdjacentPages(t *testing.T) {
	f := NewFile("fid-3", t.TempDir())
	if _, _, _, err := f.write(0, []byte("0123456789"), true); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if len(f.pages) != 1 {
		t.Fatalf("after first write, len(pages) = %d, want 1", len(f.pages))
	}

	// A write starting exactly at the first page's end must extend that
	// page in place rather than allocating a second one.
	if _, _, _, err := f.write(10, []byte("ABCDE"), true); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if len(f.pages) != 1 {
		t.Fatalf("after adjacent write, len(pages) = %d, want 1 (should coalesce)", len(f.pages))
	}
	if f.pages[0].Size() != 15 {
		t.Fatalf("coalesced page size = %d, want 15", f.pages[0].Size())
	}

	out, misses, err := f.read(0, 15)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(misses) != 0 {
		t.Fatalf("unexpected misses: %v", misses)
	}
	if string(out) != "0123456789ABCDE" {
		t.Fatalf("read = %q, want 0123456789ABCDE", out)
	}
}

func TestFile_Write_LeavesDisjointGapUncoalesced(t *testing.T) {
	f := NewFile("fid-4", t.TempDir())
	if _, _, _, err := f.write(0, []byte("aaaaa"), true); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// A write that starts beyond the first page's end (a real gap) must
	// allocate a separate page rather than merging.
	if _, _, _, err := f.write(20, []byte("bbbbb"), true); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if len(f.pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2 (disjoint gap must not coalesce)", len(f.pages))
	}

	_, misses, err := f.read(0, 25)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(misses) != 1 || misses[0].Offset != 5 || misses[0].Length != 15 {
		t.Fatalf("misses = %v, want one range {5,15}", misses)
	}
}

func TestFile_Write_OverwritesInPlace(t *testing.T) {
	f := NewFile("fid-5", t.TempDir())
	if _, _, _, err := f.write(0, []byte("0123456789"), true); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, _, _, err := f.write(2, []byte("XX"), true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if len(f.pages) != 1 {
		t.Fatalf("len(pages) = %d, want 1 (in-place overwrite must not split)", len(f.pages))
	}
	out, _, err := f.read(0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "01XX456789" {
		t.Fatalf("read = %q, want 01XX456789", out)
	}
}

func TestFile_Write_DiskBacked_PersistsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	f := NewFile("fid-6", dir)
	f.SetUseDiskFile(true)

	data := []byte("disk page contents")
	if _, addedMem, addedDisk, err := f.write(0, data, true); err != nil {
		t.Fatalf("write: %v", err)
	} else if addedMem != 0 || addedDisk != int64(len(data)) {
		t.Fatalf("addedMem=%d addedDisk=%d, want 0/%d", addedMem, addedDisk, len(data))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("scratch dir has %d entries, want 1", len(entries))
	}

	out, _, err := f.read(0, int64(len(data)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("read = %q, want %q", out, data)
	}

	if err := f.clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, err = os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir after clear: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir has %d entries after clear, want 0", len(entries))
	}
}

func TestFile_ResizeToSmallerSize_TruncatesStraddlingPage(t *testing.T) {
	f := NewFile("fid-7", t.TempDir())
	if _, _, _, err := f.write(0, []byte("0123456789"), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.resizeToSmallerSize(5); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if f.GetSize() != 5 {
		t.Fatalf("size = %d, want 5", f.GetSize())
	}
	out, misses, err := f.read(0, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(misses) != 0 {
		t.Fatalf("unexpected misses: %v", misses)
	}
	if string(out) != "01234" {
		t.Fatalf("read = %q, want 01234", out)
	}
}

func TestFile_ResizeToSmallerSize_DropsPagesEntirelyPastBoundary(t *testing.T) {
	f := NewFile("fid-8", t.TempDir())
	if _, _, _, err := f.write(0, []byte("aaaaa"), true); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if _, _, _, err := f.write(20, []byte("bbbbb"), true); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	if err := f.resizeToSmallerSize(5); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if len(f.pages) != 1 {
		t.Fatalf("len(pages) = %d, want 1", len(f.pages))
	}
	if f.GetCachedSize() != 5 {
		t.Fatalf("cachedSize = %d, want 5", f.GetCachedSize())
	}
}

func TestFile_SetOpen_RefCounts(t *testing.T) {
	f := NewFile("fid-9", t.TempDir())
	if f.IsOpen() {
		t.Fatalf("new file reports open")
	}
	f.SetOpen(true)
	f.SetOpen(true)
	if !f.IsOpen() {
		t.Fatalf("expected open after two SetOpen(true)")
	}
	f.SetOpen(false)
	if !f.IsOpen() {
		t.Fatalf("expected still open after one SetOpen(false) of two opens")
	}
	f.SetOpen(false)
	if f.IsOpen() {
		t.Fatalf("expected closed after matching SetOpen(false) calls")
	}
	// Must not underflow below zero.
	f.SetOpen(false)
	if f.IsOpen() {
		t.Fatalf("extra SetOpen(false) incorrectly reported open")
	}
}

func TestFile_Rename_PreservesPages(t *testing.T) {
	f := NewFile("fid-old", t.TempDir())
	if _, _, _, err := f.write(0, []byte("data"), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Rename("fid-new")
	if got := f.GetFid(); got != "fid-new" {
		t.Fatalf("GetFid() = %q, want fid-new", got)
	}
	out, _, err := f.read(0, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "data" {
		t.Fatalf("read = %q, want data", out)
	}
}
