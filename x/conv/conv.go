package conv

// Itoa appends the base-10 representation of n to dst.
// No allocations beyond dst growth; no fmt/strconv dependency.
func Itoa(dst []byte, n int64) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	u := uint64(n)
	if n < 0 {
		dst = append(dst, '-')
		u = uint64(-n)
	}
	return Utoa(dst, u)
}

// Utoa appends the base-10 representation of u to dst.
func Utoa(dst []byte, u uint64) []byte {
	if u == 0 {
		return append(dst, '0')
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return append(dst, buf[i:]...)
}

// HexByte appends two lowercase hex digits for b.
func HexByte(dst []byte, b byte) []byte {
	const hexd = "0123456789abcdef"
	return append(dst, hexd[b>>4], hexd[b&0xF])
}

// MAC appends the colon-separated lowercase hex form of a hardware address.
func MAC(dst []byte, mac [6]byte) []byte {
	for i, b := range mac {
		if i > 0 {
			dst = append(dst, ':')
		}
		dst = HexByte(dst, b)
	}
	return dst
}
