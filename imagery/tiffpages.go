package imagery

import (
	"encoding/binary"
	"fmt"
	"os"
)

// tiffPageCount walks the IFD chain of a TIFF file and returns the number
// of directories (pages). The standard decoder only exposes the first
// image, so the chain is followed by hand.
func tiffPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var hdr [8]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return 0, fmt.Errorf("tiff: header: %w", err)
	}

	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("tiff: bad byte order mark %q", hdr[:2])
	}
	if order.Uint16(hdr[2:4]) != 42 {
		return 0, fmt.Errorf("tiff: bad magic")
	}

	offset := int64(order.Uint32(hdr[4:8]))
	count := 0
	const maxPages = 4096 // cycle guard

	for offset != 0 {
		if count >= maxPages {
			return 0, fmt.Errorf("tiff: IFD chain exceeds %d entries", maxPages)
		}
		var nb [2]byte
		if _, err := f.ReadAt(nb[:], offset); err != nil {
			return 0, fmt.Errorf("tiff: IFD at %d: %w", offset, err)
		}
		entries := int64(order.Uint16(nb[:]))

		var next [4]byte
		if _, err := f.ReadAt(next[:], offset+2+entries*12); err != nil {
			return 0, fmt.Errorf("tiff: next-IFD pointer: %w", err)
		}
		count++
		offset = int64(order.Uint32(next[:]))
	}
	return count, nil
}
