package t30

import (
	"encoding/binary"
	"fmt"

	"github.com/arzzra/soft_fax/pkg/t4"
)

// Режим коррекции ошибок (ECM) передает страницу кадрами FCD по
// строкам: каждая строка кодируется независимо и снабжается своим
// индексом, поэтому приемник точно указывает передатчику, какие
// строки повторить. Цикл PPS/PPR ограничен четырьмя попытками, после
// чего передатчик понижает скорость через CTC либо завершает сеанс.

// ecmPPRLimit максимум циклов PPS/PPR на один блок
const ecmPPRLimit = 4

// fcdHeaderLen длина заголовка кадра FCD: индекс строки uint16 BE
const fcdHeaderLen = 2

// ppsFIFLen длина FIF кадра PPS: команда, номер страницы, число строк
const ppsFIFLen = 4

// buildFCDFIF собирает FIF кадра FCD из индекса строки и ее кода.
func buildFCDFIF(row int, code []byte) []byte {
	fif := make([]byte, fcdHeaderLen+len(code))
	binary.BigEndian.PutUint16(fif, uint16(row))
	copy(fif[fcdHeaderLen:], code)
	return fif
}

// parseFCDFIF разбирает FIF кадра FCD.
func parseFCDFIF(fif []byte) (row int, code []byte, err error) {
	if len(fif) < fcdHeaderLen {
		return 0, nil, fmt.Errorf("короткий FCD: %d октетов", len(fif))
	}
	return int(binary.BigEndian.Uint16(fif)), fif[fcdHeaderLen:], nil
}

// buildPPSFIF собирает FIF кадра PPS: команда после страницы,
// номер страницы и количество строк в блоке.
func buildPPSFIF(cmd FrameType, page, rows int) []byte {
	fif := make([]byte, ppsFIFLen)
	fif[0] = byte(cmd)
	fif[1] = byte(page)
	binary.BigEndian.PutUint16(fif[2:], uint16(rows))
	return fif
}

// parsePPSFIF разбирает FIF кадра PPS.
func parsePPSFIF(fif []byte) (cmd FrameType, page, rows int, err error) {
	if len(fif) < ppsFIFLen {
		return 0, 0, 0, fmt.Errorf("короткий PPS: %d октетов", len(fif))
	}
	return FrameType(fif[0]), int(fif[1]), int(binary.BigEndian.Uint16(fif[2:])), nil
}

// ecmTransmitter хранит закодированные строки текущей страницы и
// управляет повторами по битовой карте PPR.
type ecmTransmitter struct {
	page    int
	rows    [][]byte
	postCmd FrameType

	pprCycles   int
	retransmits int
}

// newECMTransmitter кодирует страницу построчно для передачи блоком FCD.
func newECMTransmitter(page *t4.Page, index int, postCmd FrameType) *ecmTransmitter {
	rows := make([][]byte, len(page.Rows))
	for i := range page.Rows {
		rows[i] = t4.EncodeRow(page.Rows[i], page.Width)
	}
	return &ecmTransmitter{page: index, rows: rows, postCmd: postCmd}
}

// rowCount количество строк блока.
func (t *ecmTransmitter) rowCount() int { return len(t.rows) }

// allRows возвращает индексы всех строк блока.
func (t *ecmTransmitter) allRows() []int {
	out := make([]int, len(t.rows))
	for i := range out {
		out[i] = i
	}
	return out
}

// rowsFromPPR возвращает индексы строк, запрошенных битовой картой PPR.
// Бит i карты (LSB первого октета — строка 0) установлен, если строка
// не принята и требует повторной передачи.
func (t *ecmTransmitter) rowsFromPPR(bitmap []byte) []int {
	var out []int
	for i := range t.rows {
		octet := i / 8
		if octet >= len(bitmap) {
			break
		}
		if bitmap[octet]&(1<<(i%8)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// ecmReceiver накапливает строки блока FCD и строит PPR/страницу.
type ecmReceiver struct {
	width int

	rows        map[int][]byte
	retransmits int
}

func newECMReceiver(width int) *ecmReceiver {
	return &ecmReceiver{width: width, rows: make(map[int][]byte)}
}

// acceptRow сохраняет строку из кадра FCD. Повторно пришедшая строка
// замещает прежнюю копию и учитывается как повтор.
func (r *ecmReceiver) acceptRow(row int, code []byte) {
	if _, dup := r.rows[row]; dup {
		r.retransmits++
	}
	r.rows[row] = append([]byte(nil), code...)
}

// buildPPR проверяет полноту блока из rowCount строк. Возвращает
// nil, true если все строки приняты и декодируются, иначе битовую
// карту недостающих или поврежденных строк.
func (r *ecmReceiver) buildPPR(rowCount int) ([]byte, bool) {
	bitmap := make([]byte, (rowCount+7)/8)
	complete := true
	for i := 0; i < rowCount; i++ {
		code, have := r.rows[i]
		if have {
			if _, err := t4.DecodeRow(code, r.width); err == nil {
				continue
			}
			// поврежденную строку запрашиваем заново
			delete(r.rows, i)
		}
		bitmap[i/8] |= 1 << (i % 8)
		complete = false
	}
	if complete {
		return nil, true
	}
	return bitmap, false
}

// assemblePage строит страницу из принятых строк блока.
func (r *ecmReceiver) assemblePage(rowCount int) (*t4.Page, error) {
	page := t4.NewPage(r.width, rowCount)
	for i := 0; i < rowCount; i++ {
		code, have := r.rows[i]
		if !have {
			return nil, fmt.Errorf("строка %d не принята", i)
		}
		row, err := t4.DecodeRow(code, r.width)
		if err != nil {
			return nil, fmt.Errorf("строка %d: %w", i, err)
		}
		copy(page.Rows[i], row)
	}
	return page, nil
}

// reset очищает приемник перед новым блоком.
func (r *ecmReceiver) reset() {
	r.rows = make(map[int][]byte)
	r.retransmits = 0
}
