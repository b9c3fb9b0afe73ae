package flags

import (
	"os"
	"strings"
)

// OpenFlag is the raw open(2) flag word the kernel passed with an open.
type OpenFlag uint32

const accessMask = uint32(os.O_RDONLY | os.O_WRONLY | os.O_RDWR)

func (f OpenFlag) access() uint32 {
	return uint32(f) & accessMask
}

func (f OpenFlag) WriteAllowed() bool {
	a := f.access()
	return a == uint32(os.O_WRONLY) || a == uint32(os.O_RDWR)
}

// ReadAllowed is true unless the open is write-only.
func (f OpenFlag) ReadAllowed() bool {
	return f.access() != uint32(os.O_WRONLY)
}

func (f OpenFlag) Append() bool {
	return uint32(f)&uint32(os.O_APPEND) != 0
}

func (f OpenFlag) Create() bool {
	return uint32(f)&uint32(os.O_CREATE) != 0
}

func (f OpenFlag) Truncate() bool {
	return uint32(f)&uint32(os.O_TRUNC) != 0
}

func (f OpenFlag) Exclusive() bool {
	return uint32(f)&uint32(os.O_EXCL) != 0
}

// Mutates reports whether the open could change the file. Such opens are
// refused on the read-only mount.
func (f OpenFlag) Mutates() bool {
	return f.WriteAllowed() || f.Append() || f.Create() || f.Truncate()
}

func (f OpenFlag) String() string {
	flags := []string{}
	if f.ReadAllowed() && f.WriteAllowed() {
		flags = append(flags, "O_RDWR")
	} else if f.ReadAllowed() {
		flags = append(flags, "O_RDONLY")
	} else if f.WriteAllowed() {
		flags = append(flags, "O_WRONLY")
	}
	if f.Append() {
		flags = append(flags, "O_APPEND")
	}
	if f.Create() {
		flags = append(flags, "O_CREATE")
	}
	if f.Truncate() {
		flags = append(flags, "O_TRUNC")
	}
	if f.Exclusive() {
		flags = append(flags, "O_EXCL")
	}
	return strings.Join(flags, "|")
}
