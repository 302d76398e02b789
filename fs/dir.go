package fs

import (
	"eduk/defs"
)

// dirEntrySize is {u32 inode_sector, char name[15], u8 in_use, pad to 20},
// (20 bytes total).
const dirEntrySize = 20
const dirNameField = defs.NAME_MAX + 1 // 15: NAME_MAX bytes plus NUL

type dirEntry_t struct {
	sector uint32
	name   string
	inUse  bool
}

func decodeDirEntry(buf []byte) dirEntry_t {
	sector := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	nameBytes := buf[4 : 4+dirNameField]
	n := 0
	for n < len(nameBytes) && nameBytes[n] != 0 {
		n++
	}
	return dirEntry_t{
		sector: sector,
		name:   string(nameBytes[:n]),
		inUse:  buf[4+dirNameField] != 0,
	}
}

func (e dirEntry_t) encode(buf []byte) {
	buf[0] = byte(e.sector)
	buf[1] = byte(e.sector >> 8)
	buf[2] = byte(e.sector >> 16)
	buf[3] = byte(e.sector >> 24)
	nameBytes := buf[4 : 4+dirNameField]
	for i := range nameBytes {
		nameBytes[i] = 0
	}
	copy(nameBytes, e.name)
	if e.inUse {
		buf[4+dirNameField] = 1
	} else {
		buf[4+dirNameField] = 0
	}
}

// / Dir_t is a directory handle: a directory's backing inode plus a
// / readdir cursor.
type Dir_t struct {
	Ino *Inode_t
	pos int64
}

// / OpenDir wraps ino (which must hold directory content) in a Dir_t.
func OpenDir(ino *Inode_t) *Dir_t {
	return &Dir_t{Ino: ino}
}

// / InitDirEntries writes a fresh directory's "." and ".." entries. selfSector
// / and parentSector may be equal (the root is its own parent).
func InitDirEntries(ino *Inode_t, selfSector, parentSector uint32) defs.Err_t {
	dot := dirEntry_t{sector: selfSector, name: ".", inUse: true}
	dotdot := dirEntry_t{sector: parentSector, name: "..", inUse: true}
	var buf [dirEntrySize]byte
	dot.encode(buf[:])
	if _, err := ino.WriteAt(buf[:], 0); err != 0 {
		return err
	}
	dotdot.encode(buf[:])
	if _, err := ino.WriteAt(buf[:], dirEntrySize); err != 0 {
		return err
	}
	return 0
}

func (d *Dir_t) readEntry(ofs int64) (dirEntry_t, bool) {
	var buf [dirEntrySize]byte
	n, err := d.Ino.ReadAt(buf[:], ofs)
	if err != 0 || n != dirEntrySize {
		return dirEntry_t{}, false
	}
	return decodeDirEntry(buf[:]), true
}

// / Lookup linearly scans for name, returning its inode sector.
func (d *Dir_t) Lookup(name string) (uint32, bool) {
	for ofs := int64(0); ; ofs += dirEntrySize {
		e, ok := d.readEntry(ofs)
		if !ok {
			return 0, false
		}
		if e.inUse && e.name == name {
			return e.sector, true
		}
	}
}

// / Add inserts name -> sector into the first free slot, or appends, per
// / the first free slot, or appends. Fails if name already exists, is
// / empty, or exceeds NAME_MAX.
func (d *Dir_t) Add(name string, sector uint32) defs.Err_t {
	if len(name) == 0 || len(name) > defs.NAME_MAX {
		return defs.EINVAL
	}
	if _, ok := d.Lookup(name); ok {
		return defs.EEXIST
	}

	ofs := int64(0)
	for {
		e, ok := d.readEntry(ofs)
		if !ok {
			break // end of payload: append here
		}
		if !e.inUse {
			break // reuse this free slot
		}
		ofs += dirEntrySize
	}

	entry := dirEntry_t{sector: sector, name: name, inUse: true}
	var buf [dirEntrySize]byte
	entry.encode(buf[:])
	n, err := d.Ino.WriteAt(buf[:], ofs)
	if err != 0 || n != dirEntrySize {
		if err == 0 {
			err = defs.EIO
		}
		return err
	}
	return 0
}

// / Remove marks name's slot free without compacting the payload, per
// / without compacting the payload. The caller is responsible for the
// / root/non-empty-directory checks, since those require opening the
// / target inode.
func (d *Dir_t) Remove(name string) defs.Err_t {
	ofs := int64(0)
	for {
		e, ok := d.readEntry(ofs)
		if !ok {
			return defs.ENOENT
		}
		if e.inUse && e.name == name {
			e.inUse = false
			var buf [dirEntrySize]byte
			e.encode(buf[:])
			if _, err := d.Ino.WriteAt(buf[:], ofs); err != 0 {
				return err
			}
			return 0
		}
		ofs += dirEntrySize
	}
}

// / IsEmpty reports whether the directory holds only "." and "..".
func (d *Dir_t) IsEmpty() bool {
	for ofs := int64(0); ; ofs += dirEntrySize {
		e, ok := d.readEntry(ofs)
		if !ok {
			return true
		}
		if e.inUse && e.name != "." && e.name != ".." {
			return false
		}
	}
}

// / Readdir advances the cursor to the next in-use entry that is neither
// / "." nor "..". ok is false at end-of-payload.
func (d *Dir_t) Readdir() (name string, ok bool) {
	for {
		e, present := d.readEntry(d.pos)
		if !present {
			return "", false
		}
		d.pos += dirEntrySize
		if e.inUse && e.name != "." && e.name != ".." {
			return e.name, true
		}
	}
}

// / RewindReaddir resets the readdir cursor to the start of the payload.
func (d *Dir_t) RewindReaddir() {
	d.pos = 0
}
