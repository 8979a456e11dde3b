package t4

// Scheme схема кодирования страницы
type Scheme int

const (
	// SchemeMH одномерное кодирование T.4 (modified Huffman)
	SchemeMH Scheme = iota
	// SchemeMR двумерное кодирование T.4 (modified READ)
	SchemeMR
	// SchemeMMR двумерное кодирование T.6 (modified modified READ)
	SchemeMMR
)

// String возвращает обозначение схемы
func (s Scheme) String() string {
	switch s {
	case SchemeMH:
		return "MH"
	case SchemeMR:
		return "MR"
	case SchemeMMR:
		return "MMR"
	default:
		return "unknown"
	}
}

// Page растр страницы: строки развертки упакованы по 8 пикселей в октет,
// старший бит первым, 0 — белый, 1 — черный. Все строки одной ширины.
type Page struct {
	Width int
	Rows  [][]byte
}

// NewPage создает страницу заданных размеров, полностью белую
func NewPage(width, height int) *Page {
	rows := make([][]byte, height)
	for i := range rows {
		rows[i] = make([]byte, (width+7)/8)
	}
	return &Page{Width: width, Rows: rows}
}

// Height возвращает количество строк развертки
func (p *Page) Height() int { return len(p.Rows) }

// Pixel возвращает пиксель (true — черный)
func (p *Page) Pixel(x, y int) bool {
	return p.Rows[y][x/8]&(1<<(7-uint(x%8))) != 0
}

// SetPixel устанавливает пиксель
func (p *Page) SetPixel(x, y int, black bool) {
	if black {
		p.Rows[y][x/8] |= 1 << (7 - uint(x%8))
	} else {
		p.Rows[y][x/8] &^= 1 << (7 - uint(x%8))
	}
}

// Equal сравнивает страницы попиксельно
func (p *Page) Equal(other *Page) bool {
	if other == nil || p.Width != other.Width || len(p.Rows) != len(other.Rows) {
		return false
	}
	for y := range p.Rows {
		for x := 0; x < p.Width; x++ {
			if p.Pixel(x, y) != other.Pixel(x, y) {
				return false
			}
		}
	}
	return true
}

// rowChanges возвращает позиции смены цвета в строке. Строка мысленно
// начинается с белого пикселя перед нулевой позицией, поэтому черный
// первый пиксель дает смену в позиции 0. Четный индекс смены — переход
// в черное, нечетный — в белое.
func rowChanges(row []byte, width int) []int {
	var chg []int
	prev := false
	for x := 0; x < width; x++ {
		cur := row[x/8]&(1<<(7-uint(x%8))) != 0
		if cur != prev {
			chg = append(chg, x)
			prev = cur
		}
	}
	return chg
}

// rowFromChanges восстанавливает упакованную строку из позиций смены цвета
func rowFromChanges(chg []int, width int) []byte {
	row := make([]byte, (width+7)/8)
	black := false
	next := 0
	for x := 0; x < width; x++ {
		for next < len(chg) && chg[next] == x {
			black = !black
			next++
		}
		if black {
			row[x/8] |= 1 << (7 - uint(x%8))
		}
	}
	return row
}

// rowRuns возвращает длины серий строки, начиная с белой серии
// (возможно нулевой длины)
func rowRuns(row []byte, width int) []int {
	chg := rowChanges(row, width)
	runs := make([]int, 0, len(chg)+1)
	prev := 0
	for _, c := range chg {
		runs = append(runs, c-prev)
		prev = c
	}
	runs = append(runs, width-prev)
	return runs
}
