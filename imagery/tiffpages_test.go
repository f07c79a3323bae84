package imagery

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildTIFFChain writes a little-endian TIFF skeleton whose IFD chain has
// the given number of directories. The directories carry no entries —
// only the chain structure matters to the page counter.
func buildTIFFChain(t *testing.T, pages int) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))

	const hdrLen = 8
	const ifdLen = 6 // u16 entry count + u32 next pointer
	binary.Write(&buf, binary.LittleEndian, uint32(hdrLen))
	for i := 0; i < pages; i++ {
		binary.Write(&buf, binary.LittleEndian, uint16(0))
		next := uint32(0)
		if i < pages-1 {
			next = uint32(hdrLen + (i+1)*ifdLen)
		}
		binary.Write(&buf, binary.LittleEndian, next)
	}

	path := filepath.Join(t.TempDir(), "chain.tif")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTIFFPageCount(t *testing.T) {
	for _, pages := range []int{1, 3, 7} {
		path := buildTIFFChain(t, pages)
		got, err := tiffPageCount(path)
		if err != nil {
			t.Fatalf("pages=%d: %v", pages, err)
		}
		if got != pages {
			t.Errorf("tiffPageCount = %d, want %d", got, pages)
		}
	}
}

func TestTIFFPageCountBigEndian(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("MM")
	binary.Write(&buf, binary.BigEndian, uint16(42))
	binary.Write(&buf, binary.BigEndian, uint32(8))
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, uint32(0))

	path := filepath.Join(t.TempDir(), "be.tif")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := tiffPageCount(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("tiffPageCount = %d, want 1", got)
	}
}

func TestTIFFPageCountRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tif")
	if err := os.WriteFile(path, []byte("definitely not tiff bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := tiffPageCount(path); err == nil {
		t.Fatal("expected error for non-TIFF input")
	}
}
