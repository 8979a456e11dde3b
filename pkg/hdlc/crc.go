package hdlc

// FCS-16 согласно ITU-T V.42 / X.25: полином CCITT 0x1021 в отражённой
// форме (0x8408), начальное значение 0xFFFF, передаётся инвертированным.

const (
	fcsInit = 0xFFFF
	// fcsResidue остаток прогона CRC по кадру вместе с принятым FCS;
	// для неповреждённого кадра он всегда равен этой константе
	fcsResidue = 0xF0B8
)

var fcsTable [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for b := 0; b < 8; b++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
		fcsTable[i] = crc
	}
}

// updateFCS обновляет значение FCS одним октетом
func updateFCS(fcs uint16, b byte) uint16 {
	return (fcs >> 8) ^ fcsTable[byte(fcs)^b]
}

// calcFCS считает FCS по всем октетам данных
func calcFCS(data []byte) uint16 {
	fcs := uint16(fcsInit)
	for _, b := range data {
		fcs = updateFCS(fcs, b)
	}
	return fcs
}

// appendFCS добавляет к кадру два октета FCS (инвертированные, младший первым)
func appendFCS(data []byte) []byte {
	fcs := ^calcFCS(data)
	return append(data, byte(fcs), byte(fcs>>8))
}

// checkFCS проверяет кадр вместе с двумя принятыми октетами FCS
func checkFCS(frameWithFCS []byte) bool {
	return calcFCS(frameWithFCS) == fcsResidue
}
