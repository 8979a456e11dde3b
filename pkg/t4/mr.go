package t4

import "errors"

// Двумерное кодирование T.4/T.6: строка кодируется относительно опорной
// (предыдущей) строки режимами pass / vertical / horizontal. Для первой
// строки опорной служит мысленная полностью белая строка.

var errBadMode = errors.New("t4: невалидный режимный код")

// firstChange возвращает первую смену цвета строго правее pos с переходом
// в цвет, противоположный color (false — белый). Индексы смен чередуются:
// четный — переход в черное. Возвращает width, если смены нет.
func firstChange(chg []int, pos int, colorBlack bool, width int) int {
	for i, c := range chg {
		if c <= pos {
			continue
		}
		intoBlack := i%2 == 0
		if intoBlack == !colorBlack {
			return c
		}
	}
	return width
}

// nextAfter возвращает первую смену цвета строго правее pos любой
// полярности; width, если смены нет
func nextAfter(chg []int, pos, width int) int {
	for _, c := range chg {
		if c > pos {
			return c
		}
	}
	return width
}

// encodeRow2D кодирует строку относительно опорной строки.
// refChg — смены цвета опорной строки (rowChanges).
func encodeRow2D(w *bitWriter, row []byte, refChg []int, width int) {
	curChg := rowChanges(row, width)
	a0 := -1
	black := false

	for a0 < width {
		a1 := firstChange(curChg, a0, black, width)
		b1 := firstChange(refChg, a0, black, width)
		b2 := nextAfter(refChg, b1, width)

		switch {
		case b2 < a1:
			// pass: опорная серия целиком левее a1
			w.putCode(codePass.val, codePass.len)
			a0 = b2
		case abs(a1-b1) <= 3:
			w.putCode(vertCode(a1 - b1))
			a0 = a1
			black = !black
		default:
			// horizontal: две серии от a0
			a2 := firstChange(curChg, a1, !black, width)
			start := a0
			if start < 0 {
				start = 0
			}
			w.putCode(codeHoriz.val, codeHoriz.len)
			for _, c := range runCodes(a1-start, black) {
				w.putCode(c.val, c.len)
			}
			for _, c := range runCodes(a2-a1, !black) {
				w.putCode(c.val, c.len)
			}
			a0 = a2
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// vertCode возвращает вертикальный код для смещения a1-b1 в [-3..3]
func vertCode(d int) (uint16, int) {
	switch d {
	case 0:
		return codeV0.val, codeV0.len
	case 1:
		return codeVR1.val, codeVR1.len
	case 2:
		return codeVR2.val, codeVR2.len
	case 3:
		return codeVR3.val, codeVR3.len
	case -1:
		return codeVL1.val, codeVL1.len
	case -2:
		return codeVL2.val, codeVL2.len
	default:
		return codeVL3.val, codeVL3.len
	}
}

// mode2D режим двумерного кодирования
type mode2D int

const (
	modePass mode2D = iota
	modeHoriz
	modeVert // со смещением vertOffset
)

// readMode2D читает очередной режимный код
func readMode2D(r *bitReader) (mode2D, int, error) {
	if r.bit() == 1 {
		return modeVert, 0, nil // V0
	}
	if r.bit() == 1 {
		// 01x: вертикальные со смещением 1
		if r.bit() == 1 {
			return modeVert, 1, nil // 011 VR1
		}
		return modeVert, -1, nil // 010 VL1
	}
	if r.bit() == 1 {
		return modeHoriz, 0, nil // 001
	}
	if r.bit() == 1 {
		return modePass, 0, nil // 0001
	}
	if r.bit() == 1 {
		// 00001x: вертикальные со смещением 2
		if r.bit() == 1 {
			return modeVert, 2, nil
		}
		return modeVert, -2, nil
	}
	if r.bit() == 1 {
		// 000001x: вертикальные со смещением 3
		if r.bit() == 1 {
			return modeVert, 3, nil
		}
		return modeVert, -3, nil
	}
	// шесть и более нулей: EOL, расширение или мусор
	return 0, 0, errBadMode
}

// decodeRow2D декодирует строку относительно опорной; возвращает
// упакованную строку и ее смены цвета
func decodeRow2D(r *bitReader, refChg []int, width int) ([]byte, []int, error) {
	var curChg []int
	a0 := -1
	black := false

	for a0 < width {
		mode, d, err := readMode2D(r)
		if err != nil {
			return nil, nil, err
		}
		b1 := firstChange(refChg, a0, black, width)
		b2 := nextAfter(refChg, b1, width)

		switch mode {
		case modePass:
			if b2 > width {
				return nil, nil, errRowOverrun
			}
			a0 = b2
		case modeVert:
			a1 := b1 + d
			if a1 <= a0 || a1 < 0 || a1 > width {
				return nil, nil, errRowOverrun
			}
			if a1 < width {
				curChg = append(curChg, a1)
			}
			if a1 == width {
				// завершающая смена на границе строки не записывается
				a0 = width
				break
			}
			a0 = a1
			black = !black
		case modeHoriz:
			run1, err := readRun(r, black)
			if err != nil {
				return nil, nil, err
			}
			run2, err := readRun(r, !black)
			if err != nil {
				return nil, nil, err
			}
			start := a0
			if start < 0 {
				start = 0
			}
			a1 := start + run1
			a2 := a1 + run2
			if a2 > width {
				return nil, nil, errRowOverrun
			}
			if a1 < width {
				curChg = append(curChg, a1)
			}
			if a2 < width {
				curChg = append(curChg, a2)
			}
			a0 = a2
		}
	}
	if a0 != width {
		return nil, nil, errRowOverrun
	}
	return rowFromChanges(curChg, width), curChg, nil
}
