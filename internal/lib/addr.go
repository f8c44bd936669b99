package lib

// AddrShort shortens a hex address for log and logger names, "0x1234..cdef"
func AddrShort(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
