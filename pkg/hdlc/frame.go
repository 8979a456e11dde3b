package hdlc

// Flag октет-ограничитель кадра (0b01111110)
const Flag = 0x7E

// MaxFrameLen предельная длина кадра в октетах вместе с FCS.
// T.30 кадры короткие, но ECM кадры данных могут достигать 256 октетов;
// запас оставлен для нестандартных NSF.
const MaxFrameLen = 1024

// Frame один извлечённый из битового потока HDLC кадр.
// Время жизни — до следующего вызова дефреймера: полезная нагрузка
// копируется, кадр нигде не сохраняется.
type Frame struct {
	// Payload октеты кадра без FCS
	Payload []byte
	// FCSOK признак корректной контрольной суммы
	FCSOK bool
	// Aborted кадр оборван abort-последовательностью (семь и более единиц)
	Aborted bool
}

// Final возвращает признак заключительного кадра по биту P/F
// управляющего октета (0xFF 0x13 против 0xFF 0x03 у T.30).
// Для кадров короче двух октетов возвращает false.
func (f Frame) Final() bool {
	if len(f.Payload) < 2 {
		return false
	}
	return f.Payload[1]&0x10 != 0
}
