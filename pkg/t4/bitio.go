package t4

// bitWriter накапливает кодовые слова, старший бит первым
// (порядок следования бит кодов T.4 в потоке)
type bitWriter struct {
	out  []byte
	acc  byte
	nacc int
}

// putCode выводит младшие length бит слова code, начиная со старшего
func (w *bitWriter) putCode(code uint16, length int) {
	for i := length - 1; i >= 0; i-- {
		w.acc = w.acc<<1 | byte((code>>i)&1)
		w.nacc++
		if w.nacc == 8 {
			w.out = append(w.out, w.acc)
			w.acc = 0
			w.nacc = 0
		}
	}
}

// bytes дополняет неполный октет нулями и возвращает поток
func (w *bitWriter) bytes() []byte {
	if w.nacc > 0 {
		w.out = append(w.out, w.acc<<(8-w.nacc))
		w.acc = 0
		w.nacc = 0
	}
	return w.out
}

// bitReader читает битовый поток, старший бит первым
type bitReader struct {
	data []byte
	pos  int // позиция в битах
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

// bit возвращает очередной бит; -1 — поток закончился
func (r *bitReader) bit() int {
	if r.pos >= len(r.data)*8 {
		return -1
	}
	b := (r.data[r.pos/8] >> (7 - uint(r.pos%8))) & 1
	r.pos++
	return int(b)
}

// peek возвращает следующие n бит не сдвигая позицию; короткий хвост
// дополняется нулями
func (r *bitReader) peek(n int) uint32 {
	var v uint32
	p := r.pos
	for i := 0; i < n; i++ {
		v <<= 1
		if p < len(r.data)*8 {
			v |= uint32((r.data[p/8] >> (7 - uint(p%8))) & 1)
			p++
		}
	}
	return v
}

// skip сдвигает позицию на n бит вперед
func (r *bitReader) skip(n int) {
	r.pos += n
	if r.pos > len(r.data)*8 {
		r.pos = len(r.data) * 8
	}
}

// exhausted сообщает, остались ли в потоке биты
func (r *bitReader) exhausted() bool {
	return r.pos >= len(r.data)*8
}
