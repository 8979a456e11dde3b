package t30

import (
	"fmt"

	"github.com/arzzra/soft_fax/pkg/t4"
)

// ModemSupport битовая маска поддерживаемых семейств модуляции.
// Значения совпадают с t30_set_supported_modems спецификации spandsp.
type ModemSupport uint8

const (
	// ModemV27ter V.27ter (2400/4800 бит/с)
	ModemV27ter ModemSupport = 0x01
	// ModemV29 V.29 (7200/9600 бит/с)
	ModemV29 ModemSupport = 0x02
	// ModemV17 V.17 (7200-14400 бит/с)
	ModemV17 ModemSupport = 0x04
)

// DefaultModemSupport стандартный набор факс-модемов: V.27ter + V.29 + V.17
const DefaultModemSupport = ModemV27ter | ModemV29 | ModemV17

// String возвращает перечень семейств маски
func (m ModemSupport) String() string {
	s := ""
	if m&ModemV27ter != 0 {
		s += "V.27ter "
	}
	if m&ModemV29 != 0 {
		s += "V.29 "
	}
	if m&ModemV17 != 0 {
		s += "V.17 "
	}
	if s == "" {
		return "none"
	}
	return s[:len(s)-1]
}

// rateLadder скорости в порядке убывания с требуемым семейством модуляции.
// Используется выбором максимальной общей скорости и откатом при
// неудачной тренировке.
var rateLadder = []struct {
	bps   int
	modem ModemSupport
}{
	{14400, ModemV17},
	{12000, ModemV17},
	{9600, ModemV29},
	{7200, ModemV29},
	{4800, ModemV27ter},
	{2400, ModemV27ter},
}

// MaxRate возвращает максимальную скорость маски; 0 — маска пуста
func (m ModemSupport) MaxRate() int {
	for _, r := range rateLadder {
		if m&r.modem != 0 {
			return r.bps
		}
	}
	return 0
}

// FallbackRate возвращает ближайшую скорость ниже rate, доступную маске;
// 0 — откатываться некуда
func (m ModemSupport) FallbackRate(rate int) int {
	for _, r := range rateLadder {
		if r.bps < rate && m&r.modem != 0 {
			return r.bps
		}
	}
	return 0
}

// Resolution разрешение развертки
type Resolution int

const (
	// ResolutionStandard R8 x 3.85 линий/мм
	ResolutionStandard Resolution = iota
	// ResolutionFine R8 x 7.7 линий/мм
	ResolutionFine
	// ResolutionSuperfine R8 x 15.4 линий/мм
	ResolutionSuperfine
)

func (r Resolution) String() string {
	switch r {
	case ResolutionStandard:
		return "standard"
	case ResolutionFine:
		return "fine"
	case ResolutionSuperfine:
		return "superfine"
	default:
		return "unknown"
	}
}

// WidthClass класс ширины страницы
type WidthClass int

const (
	// WidthA4 1728 пикселей
	WidthA4 WidthClass = iota
	// WidthB4 2048 пикселей
	WidthB4
	// WidthA3 2432 пикселя
	WidthA3
)

// Pixels возвращает ширину класса в пикселях
func (w WidthClass) Pixels() int {
	switch w {
	case WidthB4:
		return 2048
	case WidthA3:
		return 2432
	default:
		return 1728
	}
}

func (w WidthClass) String() string {
	switch w {
	case WidthA4:
		return "A4"
	case WidthB4:
		return "B4"
	case WidthA3:
		return "A3"
	default:
		return "unknown"
	}
}

// LengthClass класс длины страницы
type LengthClass int

const (
	// LengthA4 297 мм
	LengthA4 LengthClass = iota
	// LengthB4 364 мм
	LengthB4
	// LengthUnlimited без ограничения
	LengthUnlimited
)

func (l LengthClass) String() string {
	switch l {
	case LengthA4:
		return "A4"
	case LengthB4:
		return "B4"
	case LengthUnlimited:
		return "unlimited"
	default:
		return "unknown"
	}
}

// Capabilities набор параметров сессии. После завершения фазы B значение
// неизменяемо: пересогласование (откат скорости, ECM ретрейн) порождает
// новое значение, а не мутирует старое.
type Capabilities struct {
	// Modems поддерживаемые семейства модуляции
	Modems ModemSupport
	// BitRate согласованная скорость; в локальном наборе возможностей 0
	// (скорость определяется согласованием)
	BitRate int
	// Resolution разрешение развертки
	Resolution Resolution
	// Width класс ширины
	Width WidthClass
	// Length класс длины
	Length LengthClass
	// ECM режим коррекции ошибок
	ECM bool
	// Scheme максимальная поддерживаемая схема сжатия (MH < MR < MMR)
	Scheme t4.Scheme
}

// DefaultCapabilities стандартный локальный набор: все модемы, fine,
// A4, ECM, двумерное кодирование
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Modems:     DefaultModemSupport,
		Resolution: ResolutionFine,
		Width:      WidthA4,
		Length:     LengthUnlimited,
		ECM:        true,
		Scheme:     t4.SchemeMR,
	}
}

// String возвращает краткое описание набора
func (c Capabilities) String() string {
	return fmt.Sprintf("{%s %dbps %s %s/%s ecm=%v %s}",
		c.Modems, c.BitRate, c.Resolution, c.Width, c.Length, c.ECM, c.Scheme)
}

// WithBitRate возвращает копию набора с другой скоростью
// (возможности неизменяемы, откат порождает новое значение)
func (c Capabilities) WithBitRate(rate int) Capabilities {
	c.BitRate = rate
	return c
}

// Negotiate вычисляет пересечение локальных и удаленных возможностей:
// скорость — максимальная общая, разрешение и форматы — более
// ограниченные из двух, ECM — только при поддержке обеими сторонами.
// Результат симметричен и детерминирован: Negotiate(a,b) == Negotiate(b,a).
func Negotiate(local, remote Capabilities) (Capabilities, error) {
	common := local.Modems & remote.Modems
	if common == 0 {
		return Capabilities{}, ErrNegotiationFailed
	}
	neg := Capabilities{
		Modems:  common,
		BitRate: common.MaxRate(),
		ECM:     local.ECM && remote.ECM,
	}
	neg.Resolution = minResolution(local.Resolution, remote.Resolution)
	if local.Width < remote.Width {
		neg.Width = local.Width
	} else {
		neg.Width = remote.Width
	}
	if local.Length < remote.Length {
		neg.Length = local.Length
	} else {
		neg.Length = remote.Length
	}
	neg.Scheme = local.Scheme
	if remote.Scheme < neg.Scheme {
		neg.Scheme = remote.Scheme
	}
	// MMR требует ECM: без коррекции ошибок поврежденная строка T.6
	// уничтожает остаток страницы
	if neg.Scheme == t4.SchemeMMR && !neg.ECM {
		neg.Scheme = t4.SchemeMR
	}
	return neg, nil
}

func minResolution(a, b Resolution) Resolution {
	if a < b {
		return a
	}
	return b
}

// --- Битовая таблица DIS/DTC/DCS ---
//
// Информационное поле DIS/DTC/DCS кодируется битовой таблицей T.30 §5.3.6
// (таблица 2). Биты нумеруются с единицы, бит 1 — младший бит первого
// октета. Октеты 4 и далее присутствуют при установленных битах
// расширения 24, 32, 40.

const disLength = 6 // октеты битовой таблицы, которые мы формируем

// позиции битов таблицы
const (
	bitReadyToReceive = 10 // приемник T.4 готов
	bitRateV29        = 11 // поле скорости: V.29
	bitRateV27ter     = 12 // поле скорости: V.27ter
	bitRateV17        = 13 // поле скорости: V.17 (совместно с 11 и 12)
	bitFineRes        = 15 // разрешение R8 x 7.7
	bitTwoDimensional = 16 // двумерное кодирование (MR)
	bitWidthLo        = 17 // класс ширины, младший бит
	bitWidthHi        = 18 // класс ширины, старший бит
	bitLengthLo       = 19 // класс длины, младший бит
	bitLengthHi       = 20 // класс длины, старший бит
	bitExtension1     = 24 // признак продолжения таблицы
	bitECM            = 27 // режим коррекции ошибок
	bitExtension2     = 32
	bitMMR            = 31 // кодирование T.6 (MMR), только вместе с ECM
	bitExtension3     = 40
	bitSuperfineRes   = 41 // разрешение R8 x 15.4
)

func setBit(buf []byte, n int) {
	buf[(n-1)/8] |= 1 << (uint(n-1) % 8)
}

func getBit(buf []byte, n int) bool {
	i := (n - 1) / 8
	if i >= len(buf) {
		return false
	}
	return buf[i]&(1<<(uint(n-1)%8)) != 0
}

// EncodeDIS кодирует набор возможностей в битовую таблицу DIS/DTC
func EncodeDIS(c Capabilities) []byte {
	buf := make([]byte, disLength)
	setBit(buf, bitReadyToReceive)
	if c.Modems&ModemV29 != 0 {
		setBit(buf, bitRateV29)
	}
	if c.Modems&ModemV27ter != 0 {
		setBit(buf, bitRateV27ter)
	}
	if c.Modems&ModemV17 != 0 {
		setBit(buf, bitRateV17)
	}
	if c.Resolution >= ResolutionFine {
		setBit(buf, bitFineRes)
	}
	if c.Scheme >= t4.SchemeMR {
		setBit(buf, bitTwoDimensional)
	}
	encodeWidth(buf, c.Width)
	encodeLength(buf, c.Length)
	setBit(buf, bitExtension1)
	if c.ECM {
		setBit(buf, bitECM)
	}
	setBit(buf, bitExtension2)
	if c.Scheme >= t4.SchemeMMR && c.ECM {
		setBit(buf, bitMMR)
	}
	setBit(buf, bitExtension3)
	if c.Resolution >= ResolutionSuperfine {
		setBit(buf, bitSuperfineRes)
	}
	return buf
}

// DecodeDIS разбирает битовую таблицу DIS/DTC. Неизвестные установленные
// биты игнорируются: по правилу прямой совместимости T.30 незнакомая
// возможность трактуется как неподдерживаемая, а не как ошибка.
func DecodeDIS(buf []byte) Capabilities {
	var c Capabilities
	if getBit(buf, bitRateV29) {
		c.Modems |= ModemV29
	}
	if getBit(buf, bitRateV27ter) {
		c.Modems |= ModemV27ter
	}
	if getBit(buf, bitRateV17) {
		c.Modems |= ModemV17
	}
	c.Resolution = ResolutionStandard
	if getBit(buf, bitFineRes) {
		c.Resolution = ResolutionFine
	}
	if getBit(buf, bitSuperfineRes) {
		c.Resolution = ResolutionSuperfine
	}
	c.Scheme = t4.SchemeMH
	if getBit(buf, bitTwoDimensional) {
		c.Scheme = t4.SchemeMR
	}
	c.ECM = getBit(buf, bitECM)
	if getBit(buf, bitMMR) && c.ECM {
		c.Scheme = t4.SchemeMMR
	}
	c.Width = decodeWidth(buf)
	c.Length = decodeLength(buf)
	return c
}

func encodeWidth(buf []byte, w WidthClass) {
	switch w {
	case WidthB4:
		setBit(buf, bitWidthLo)
	case WidthA3:
		setBit(buf, bitWidthHi)
	}
}

func decodeWidth(buf []byte) WidthClass {
	lo, hi := getBit(buf, bitWidthLo), getBit(buf, bitWidthHi)
	switch {
	case hi:
		return WidthA3
	case lo:
		return WidthB4
	default:
		return WidthA4
	}
}

func encodeLength(buf []byte, l LengthClass) {
	switch l {
	case LengthB4:
		setBit(buf, bitLengthLo)
	case LengthUnlimited:
		setBit(buf, bitLengthHi)
	}
}

func decodeLength(buf []byte) LengthClass {
	lo, hi := getBit(buf, bitLengthLo), getBit(buf, bitLengthHi)
	switch {
	case hi:
		return LengthUnlimited
	case lo:
		return LengthB4
	default:
		return LengthA4
	}
}

// rateToDCS коды поля скорости DCS (биты 11-14) по таблице 2 T.30
var rateToDCS = map[int]byte{
	2400:  0x0,
	4800:  0x2,
	9600:  0x1,
	7200:  0x3,
	14400: 0x9,
	12000: 0xB,
}

var dcsToRate = func() map[byte]int {
	m := make(map[byte]int, len(rateToDCS))
	for r, c := range rateToDCS {
		m[c] = r
	}
	return m
}()

// EncodeDCS кодирует командный набор (выбранные параметры) в таблицу DCS
func EncodeDCS(c Capabilities) []byte {
	buf := make([]byte, disLength)
	setBit(buf, bitReadyToReceive)
	code, ok := rateToDCS[c.BitRate]
	if !ok {
		code = rateToDCS[2400]
	}
	for i := 0; i < 4; i++ {
		if code&(1<<i) != 0 {
			setBit(buf, bitRateV29+i)
		}
	}
	if c.Resolution >= ResolutionFine {
		setBit(buf, bitFineRes)
	}
	if c.Scheme >= t4.SchemeMR {
		setBit(buf, bitTwoDimensional)
	}
	encodeWidth(buf, c.Width)
	encodeLength(buf, c.Length)
	setBit(buf, bitExtension1)
	if c.ECM {
		setBit(buf, bitECM)
	}
	setBit(buf, bitExtension2)
	if c.Scheme >= t4.SchemeMMR && c.ECM {
		setBit(buf, bitMMR)
	}
	setBit(buf, bitExtension3)
	if c.Resolution >= ResolutionSuperfine {
		setBit(buf, bitSuperfineRes)
	}
	return buf
}

// DecodeDCS разбирает командную таблицу DCS
func DecodeDCS(buf []byte) Capabilities {
	c := DecodeDIS(buf)
	var code byte
	for i := 0; i < 4; i++ {
		if getBit(buf, bitRateV29+i) {
			code |= 1 << i
		}
	}
	rate, ok := dcsToRate[code]
	if !ok {
		// незнакомый код скорости: консервативно нижняя общая скорость
		rate = 2400
	}
	c.BitRate = rate
	// DCS выбирает конкретную скорость, маска модемов в нем не передается
	c.Modems = 0
	return c
}
