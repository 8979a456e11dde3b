package hdlc

// Framer преобразует полезную нагрузку в битовый поток HDLC кадров.
// Преобразование чистое: фреймер не хранит состояния между кадрами
// и может использоваться из любой горутины.
type Framer struct {
	leadingFlags  int
	trailingFlags int
}

// FramerOption настройка фреймера
type FramerOption func(*Framer)

// WithLeadingFlags задает количество открывающих флагов перед кадром.
// T.30 требует преамбулу около одной секунды флагов перед первым кадром
// команды (на 300 бит/с это ~37 флагов); внутри последовательности кадров
// достаточно одного.
func WithLeadingFlags(n int) FramerOption {
	return func(f *Framer) {
		if n > 0 {
			f.leadingFlags = n
		}
	}
}

// WithTrailingFlags задает количество закрывающих флагов после кадра
func WithTrailingFlags(n int) FramerOption {
	return func(f *Framer) {
		if n > 0 {
			f.trailingFlags = n
		}
	}
}

// NewFramer создает фреймер с настройками по умолчанию
// (один открывающий и один закрывающий флаг)
func NewFramer(opts ...FramerOption) *Framer {
	f := &Framer{
		leadingFlags:  1,
		trailingFlags: 1,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// bitWriter накапливает битовый поток, младший бит октета первым
type bitWriter struct {
	out  []byte
	acc  byte
	nacc int
}

func (w *bitWriter) putBit(bit byte) {
	w.acc |= (bit & 1) << w.nacc
	w.nacc++
	if w.nacc == 8 {
		w.out = append(w.out, w.acc)
		w.acc = 0
		w.nacc = 0
	}
}

// putFlag выводит октет флага без bit stuffing
func (w *bitWriter) putFlag() {
	for i := 0; i < 8; i++ {
		w.putBit((Flag >> i) & 1)
	}
}

// finish дополняет неполный октет единицами (состояние покоя линии)
func (w *bitWriter) finish() []byte {
	for w.nacc != 0 {
		w.putBit(1)
	}
	return w.out
}

// Frame упаковывает полезную нагрузку в один HDLC кадр:
// флаги, данные и FCS с вставкой нулевого бита после каждых
// пяти подряд идущих единиц. Возвращает упакованный битовый поток;
// неполный последний октет дополняется единицами.
func (f *Framer) Frame(payload []byte) []byte {
	w := &bitWriter{out: make([]byte, 0, len(payload)+f.leadingFlags+f.trailingFlags+8)}

	for i := 0; i < f.leadingFlags; i++ {
		w.putFlag()
	}

	ones := 0
	stuffed := appendFCS(append([]byte(nil), payload...))
	for _, octet := range stuffed {
		for i := 0; i < 8; i++ {
			bit := (octet >> i) & 1
			w.putBit(bit)
			if bit == 1 {
				ones++
				if ones == 5 {
					// вставленный ноль, приемник его отбросит
					w.putBit(0)
					ones = 0
				}
			} else {
				ones = 0
			}
		}
	}

	for i := 0; i < f.trailingFlags; i++ {
		w.putFlag()
	}
	return w.finish()
}

// FrameAbort выводит abort-последовательность: текущий кадр на приёмной
// стороне будет завершён как невалидный
func (f *Framer) FrameAbort() []byte {
	w := &bitWriter{}
	for i := 0; i < 16; i++ {
		w.putBit(1)
	}
	return w.finish()
}
