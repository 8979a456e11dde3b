package t4

import "errors"

// errBadCode накопленные биты не соответствуют ни одному кодовому слову
var errBadCode = errors.New("t4: невалидное кодовое слово")

// errRowOverrun сумма серий превысила ширину строки
var errRowOverrun = errors.New("t4: переполнение строки")

// maxCodeLen предельная длина кодового слова серий (черный makeup)
const maxCodeLen = 13

// encodeRow1D кодирует одну строку по схеме MH: чередующиеся серии,
// первая серия белая (при черном первом пикселе — белая серия нулевой длины)
func encodeRow1D(w *bitWriter, row []byte, width int) {
	runs := rowRuns(row, width)
	black := false
	for _, run := range runs {
		for _, c := range runCodes(run, black) {
			w.putCode(c.val, c.len)
		}
		black = !black
	}
}

// readRun читает одну серию: ноль и более кодов продолжения, затем
// терминальный код
func readRun(r *bitReader, black bool) (int, error) {
	table := whiteDecode
	if black {
		table = blackDecode
	}
	total := 0
	for {
		var acc uint32
		n := 0
		for {
			bit := r.bit()
			if bit < 0 {
				return 0, errBadCode
			}
			acc = acc<<1 | uint32(bit)
			n++
			if run, ok := table[uint32(n)<<16|acc]; ok {
				total += run
				if run < 64 {
					return total, nil
				}
				break // код продолжения, ждем терминальный
			}
			if n > maxCodeLen {
				return 0, errBadCode
			}
		}
	}
}

// decodeRow1D декодирует одну MH строку; возвращает упакованную строку
func decodeRow1D(r *bitReader, width int) ([]byte, error) {
	row := make([]byte, (width+7)/8)
	pos := 0
	black := false
	for pos < width {
		run, err := readRun(r, black)
		if err != nil {
			return nil, err
		}
		if pos+run > width {
			return nil, errRowOverrun
		}
		if black {
			for x := pos; x < pos+run; x++ {
				row[x/8] |= 1 << (7 - uint(x%8))
			}
		}
		pos += run
		black = !black
	}
	return row, nil
}
