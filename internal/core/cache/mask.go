package cache

// Mask is a bitset over block indexes.
type Mask []byte

func bitIndex(idx int) byte {
	return 1 << uint(idx&7)
}

func maskSize(size int) int {
	return (size + 7) >> 3
}

func (m *Mask) ensureSize(size int) {
	requiredBytes := maskSize(size)
	if len(*m) < requiredBytes {
		newMask := make([]byte, requiredBytes)
		copy(newMask, *m)
		*m = newMask
	}
}

func (m *Mask) set(i int) {
	if i < 0 {
		return
	}
	m.ensureSize(i + 1)
	(*m)[i>>3] |= bitIndex(i)
}

func (m Mask) unset(i int) {
	if i < 0 || i>>3 >= len(m) {
		return
	}
	m[i>>3] &^= bitIndex(i)
}

func (m Mask) isSet(i int) bool {
	if i < 0 {
		return false
	}

	byteIndex := i >> 3
	if byteIndex >= len(m) {
		return false
	}

	return (m[byteIndex] & bitIndex(i)) != 0
}

func (m *Mask) clear() {
	*m = nil
}
