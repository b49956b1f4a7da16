package openhash

import (
	"os"

	"github.com/cockroachdb/errors"
)

// Info summarizes a written table file without interpreting its slot
// data, so it works for every variant regardless of key type.
type Info struct {
	Path         string
	FileSize     int64
	Count        int
	Capacity     int
	LoadFactor   float64
	GrowthFactor float64
	FlagsOffset  int64

	// Derived from the occupancy section.
	Occupied   int // slots holding a live entry
	Tombstones int // slots erased but never rehashed away
}

// Inspect reads the file at path and cross-checks the header against the
// occupancy section: the live flag count must equal the header count, and
// no slot may be occupied without being everOccupied.
func Inspect(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, ioError(err, "reading %s", path)
	}
	h, err := parseTableHeader(data)
	if err != nil {
		return Info{}, errors.Wrapf(err, "inspecting %s", path)
	}
	flags, err := bitPairSetFromBytes(data[h.flagsOffset:])
	if err != nil {
		return Info{}, errors.Wrapf(err, "inspecting %s", path)
	}
	if uint64(flags.Len()) < h.capacity {
		return Info{}, errors.Newf("inspecting %s: occupancy section covers %d slots, capacity is %d",
			path, flags.Len(), h.capacity)
	}
	info := Info{
		Path:         path,
		FileSize:     int64(len(data)),
		Count:        int(h.count),
		Capacity:     int(h.capacity),
		LoadFactor:   h.loadFactor,
		GrowthFactor: h.growthFactor,
		FlagsOffset:  int64(h.flagsOffset),
	}
	for i := 0; i < int(h.capacity); i++ {
		occupied, ever := flags.Get(i)
		if occupied && !ever {
			return Info{}, errors.Newf("inspecting %s: slot %d occupied without everOccupied", path, i)
		}
		switch {
		case occupied:
			info.Occupied++
		case ever:
			info.Tombstones++
		}
	}
	if info.Occupied != info.Count {
		return Info{}, errors.Newf("inspecting %s: header count %d, occupancy says %d live slots",
			path, info.Count, info.Occupied)
	}
	return info, nil
}
