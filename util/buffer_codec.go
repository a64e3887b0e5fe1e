package util

// ReadUB4 按小端读取 4 字节，返回新的游标
func ReadUB4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor])
	i |= uint32(buff[cursor+1]) << 8
	i |= uint32(buff[cursor+2]) << 16
	i |= uint32(buff[cursor+3]) << 24
	return cursor + 4, i
}

func WriteUB4(buf []byte, i uint32) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	return buf
}

func ConvertUInt4Bytes(i uint32) []byte {
	buff := make([]byte, 0, 4)
	return WriteUB4(buff, i)
}
