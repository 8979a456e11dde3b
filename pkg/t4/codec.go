package t4

// DefaultK периодичность одномерных строк в схеме MR: каждая K-я строка
// кодируется одномерно, чтобы ошибка не распространялась дальше K строк.
// Значение для стандартного разрешения по T.4 §4.2.2.
const DefaultK = 4

// Encode кодирует растр страницы в битовый поток по указанной схеме.
// MH: каждая строка предваряется EOL, поток завершается RTC (шесть EOL).
// MR: после EOL следует тег-бит (1 — строка одномерная, 0 — двумерная),
// одномерная строка повторяется каждые DefaultK строк.
// MMR: все строки двумерные, без EOL, поток завершается EOFB.
func Encode(p *Page, scheme Scheme) ([]byte, error) {
	w := &bitWriter{out: make([]byte, 0, 1024)}
	switch scheme {
	case SchemeMH:
		for _, row := range p.Rows {
			w.putCode(eolCode.val, eolCode.len)
			encodeRow1D(w, row, p.Width)
		}
		for i := 0; i < 6; i++ {
			w.putCode(eolCode.val, eolCode.len)
		}
	case SchemeMR:
		var refChg []int
		for i, row := range p.Rows {
			w.putCode(eolCode.val, eolCode.len)
			if i%DefaultK == 0 {
				w.putCode(1, 1) // тег: одномерная строка
				encodeRow1D(w, row, p.Width)
			} else {
				w.putCode(0, 1)
				encodeRow2D(w, row, refChg, p.Width)
			}
			refChg = rowChanges(row, p.Width)
		}
		for i := 0; i < 6; i++ {
			w.putCode(eolCode.val, eolCode.len)
			w.putCode(1, 1)
		}
	case SchemeMMR:
		var refChg []int
		for _, row := range p.Rows {
			encodeRow2D(w, row, refChg, p.Width)
			refChg = rowChanges(row, p.Width)
		}
		// EOFB: два EOL подряд
		w.putCode(eolCode.val, eolCode.len)
		w.putCode(eolCode.val, eolCode.len)
	default:
		return nil, ErrUnsupportedScheme
	}
	return w.bytes(), nil
}

// Decode восстанавливает растр страницы из битового потока.
// При нарушении кодовой таблицы возвращается частично восстановленная
// страница вместе с DecodeError первой испорченной строки: под ECM это
// повод запросить повтор, без ECM — зафиксированная деградация страницы.
func Decode(data []byte, width int, scheme Scheme) (*Page, error) {
	switch scheme {
	case SchemeMH:
		return decodeMH(data, width)
	case SchemeMR:
		return decodeMR(data, width)
	case SchemeMMR:
		return decodeMMR(data, width)
	default:
		return nil, ErrUnsupportedScheme
	}
}

// findEOL сканирует поток до ближайшего EOL включительно.
// Допускает заполняющие нули перед EOL.
func findEOL(r *bitReader) bool {
	zeros := 0
	for {
		bit := r.bit()
		if bit < 0 {
			return false
		}
		if bit == 0 {
			zeros++
			continue
		}
		if zeros >= 11 {
			return true
		}
		zeros = 0
	}
}

// nextIsEOL сообщает, начинается ли поток с очередного EOL (без заполнения)
func nextIsEOL(r *bitReader) bool {
	return !r.exhausted() && r.peek(12) == uint32(eolCode.val)
}

func blankRow(width int) []byte { return make([]byte, (width+7)/8) }

func decodeMH(data []byte, width int) (*Page, error) {
	r := newBitReader(data)
	page := &Page{Width: width}
	var firstErr *DecodeError

	if !findEOL(r) {
		return page, newCorruptRow(0, "поток не начинается с EOL")
	}
	for !r.exhausted() {
		if nextIsEOL(r) {
			// EOL сразу за EOL — начало RTC
			break
		}
		row, err := decodeRow1D(r, width)
		if err != nil {
			if firstErr == nil {
				firstErr = newCorruptRow(len(page.Rows), err.Error())
			} else {
				firstErr.BadRows++
			}
			page.Rows = append(page.Rows, blankRow(width))
			if !findEOL(r) {
				break
			}
			continue
		}
		page.Rows = append(page.Rows, row)
		if !findEOL(r) {
			break
		}
	}
	if firstErr != nil {
		return page, firstErr
	}
	return page, nil
}

func decodeMR(data []byte, width int) (*Page, error) {
	r := newBitReader(data)
	page := &Page{Width: width}
	var firstErr *DecodeError
	var refChg []int

	if !findEOL(r) {
		return page, newCorruptRow(0, "поток не начинается с EOL")
	}
	for !r.exhausted() {
		tag := r.bit()
		if tag < 0 {
			break
		}
		if nextIsEOL(r) {
			break // RTC
		}
		var row []byte
		var chg []int
		var err error
		if tag == 1 {
			row, err = decodeRow1D(r, width)
			if err == nil {
				chg = rowChanges(row, width)
			}
		} else {
			row, chg, err = decodeRow2D(r, refChg, width)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = newCorruptRow(len(page.Rows), err.Error())
			} else {
				firstErr.BadRows++
			}
			page.Rows = append(page.Rows, blankRow(width))
			// опорная строка потеряна: до следующей одномерной строки
			// декодирование идет от белой опоры
			refChg = nil
			if !findEOL(r) {
				break
			}
			continue
		}
		page.Rows = append(page.Rows, row)
		refChg = chg
		if !findEOL(r) {
			break
		}
	}
	if firstErr != nil {
		return page, firstErr
	}
	return page, nil
}

func decodeMMR(data []byte, width int) (*Page, error) {
	r := newBitReader(data)
	page := &Page{Width: width}
	var refChg []int

	for !r.exhausted() {
		if nextIsEOL(r) {
			break // EOFB
		}
		row, chg, err := decodeRow2D(r, refChg, width)
		if err != nil {
			// в T.6 нет точек пересинхронизации: остаток потока не
			// подлежит восстановлению
			return page, newCorruptRow(len(page.Rows), err.Error())
		}
		page.Rows = append(page.Rows, row)
		refChg = chg
	}
	return page, nil
}

// EncodeRow кодирует одну строку одномерно, без EOL. Используется уровнем
// ECM: строки передаются независимыми кадрами и повторяются выборочно,
// поэтому межстрочных зависимостей быть не должно.
func EncodeRow(row []byte, width int) []byte {
	w := &bitWriter{out: make([]byte, 0, 64)}
	encodeRow1D(w, row, width)
	return w.bytes()
}

// DecodeRow декодирует строку, закодированную EncodeRow. Строка обязана
// занять ровно width пикселей, а остаток потока — содержать только
// нулевое заполнение; любое отклонение считается порчей строки.
func DecodeRow(data []byte, width int) ([]byte, error) {
	r := newBitReader(data)
	row, err := decodeRow1D(r, width)
	if err != nil {
		return nil, err
	}
	for !r.exhausted() {
		if r.bit() != 0 {
			return nil, errBadCode
		}
	}
	return row, nil
}
