package t38

import (
	"encoding/binary"
)

// Пакет IFP (Internet Facsimile Protocol) — единица переноса T.38.
// Несет либо индикатор смены сигнала на линии, либо порцию данных
// с типизированными полями. Номера индикаторов, типов данных и полей
// следуют перечням T.38 §10.1.

// IndicatorType индикатор состояния линии
type IndicatorType byte

const (
	IndicatorNoSignal IndicatorType = iota
	IndicatorCNG
	IndicatorCED
	IndicatorV21Preamble
	IndicatorV27ter2400Training
	IndicatorV27ter4800Training
	IndicatorV29_7200Training
	IndicatorV29_9600Training
	IndicatorV17_7200ShortTraining
	IndicatorV17_7200LongTraining
	IndicatorV17_9600ShortTraining
	IndicatorV17_9600LongTraining
	IndicatorV17_12000ShortTraining
	IndicatorV17_12000LongTraining
	IndicatorV17_14400ShortTraining
	IndicatorV17_14400LongTraining
)

func (i IndicatorType) String() string {
	names := [...]string{
		"no-signal", "cng", "ced", "v21-preamble",
		"v27-2400-training", "v27-4800-training",
		"v29-7200-training", "v29-9600-training",
		"v17-7200-short-training", "v17-7200-long-training",
		"v17-9600-short-training", "v17-9600-long-training",
		"v17-12000-short-training", "v17-12000-long-training",
		"v17-14400-short-training", "v17-14400-long-training",
	}
	if int(i) < len(names) {
		return names[i]
	}
	return "unknown"
}

// trainingIndicators сопоставляет скорость тренировочному индикатору
// (длинная тренировка V.17: первая тренировка всегда длинная)
var trainingIndicators = map[int]IndicatorType{
	2400:  IndicatorV27ter2400Training,
	4800:  IndicatorV27ter4800Training,
	7200:  IndicatorV29_7200Training,
	9600:  IndicatorV29_9600Training,
	12000: IndicatorV17_12000LongTraining,
	14400: IndicatorV17_14400LongTraining,
}

// TrainingIndicator возвращает индикатор тренировки для скорости rate.
// Для неизвестной скорости возвращается V.21 преамбула.
func TrainingIndicator(rate int) IndicatorType {
	if ind, ok := trainingIndicators[rate]; ok {
		return ind
	}
	return IndicatorV21Preamble
}

// TrainingRate возвращает скорость, которой соответствует
// тренировочный индикатор, и признак что индикатор тренировочный.
func TrainingRate(ind IndicatorType) (int, bool) {
	for rate, i := range trainingIndicators {
		if i == ind {
			return rate, true
		}
	}
	// короткие тренировки V.17 и V.29 7200 приводим к тем же скоростям
	switch ind {
	case IndicatorV17_7200ShortTraining, IndicatorV17_7200LongTraining:
		return 7200, true
	case IndicatorV17_9600ShortTraining, IndicatorV17_9600LongTraining:
		return 9600, true
	case IndicatorV17_12000ShortTraining:
		return 12000, true
	case IndicatorV17_14400ShortTraining:
		return 14400, true
	}
	return 0, false
}

// DataType тип несущей для пакета данных
type DataType byte

const (
	DataV21 DataType = iota
	DataV27ter2400
	DataV27ter4800
	DataV29_7200
	DataV29_9600
	DataV17_7200
	DataV17_9600
	DataV17_12000
	DataV17_14400
)

func (d DataType) String() string {
	names := [...]string{
		"v21", "v27-2400", "v27-4800", "v29-7200", "v29-9600",
		"v17-7200", "v17-9600", "v17-12000", "v17-14400",
	}
	if int(d) < len(names) {
		return names[d]
	}
	return "unknown"
}

// dataTypes сопоставляет скорость типу несущей
var dataTypes = map[int]DataType{
	2400:  DataV27ter2400,
	4800:  DataV27ter4800,
	7200:  DataV29_7200,
	9600:  DataV29_9600,
	12000: DataV17_12000,
	14400: DataV17_14400,
}

// DataTypeForRate возвращает тип несущей для скорости страницы
func DataTypeForRate(rate int) DataType {
	if dt, ok := dataTypes[rate]; ok {
		return dt
	}
	return DataV21
}

// FieldType тип поля пакета данных
type FieldType byte

const (
	FieldHDLCData FieldType = iota
	FieldHDLCSigEnd
	FieldHDLCFCSOK
	FieldHDLCFCSBad
	FieldHDLCFCSOKSigEnd
	FieldHDLCFCSBadSigEnd
	FieldT4NonECMData
	FieldT4NonECMSigEnd
)

func (f FieldType) String() string {
	names := [...]string{
		"hdlc-data", "hdlc-sig-end", "hdlc-fcs-ok", "hdlc-fcs-bad",
		"hdlc-fcs-ok-sig-end", "hdlc-fcs-bad-sig-end",
		"t4-non-ecm-data", "t4-non-ecm-sig-end",
	}
	if int(f) < len(names) {
		return names[f]
	}
	return "unknown"
}

// Field поле пакета данных
type Field struct {
	Type FieldType
	Data []byte
}

// Вид пакета
const (
	packetKindIndicator byte = 0
	packetKindData      byte = 1
)

// MaxFieldLen предел длины одного поля данных; выбран под датаграмму
// UDPTL с тройной избыточностью в один MTU
const MaxFieldLen = 512

// Packet пакет IFP. Seq монотонно растет с переполнением uint16;
// приемник опирается на него для отбрасывания дубликатов и
// восстановления порядка.
type Packet struct {
	Seq       uint16
	Indicator IndicatorType
	Data      DataType
	Fields    []Field

	isData bool
}

// NewIndicatorPacket создает пакет-индикатор
func NewIndicatorPacket(seq uint16, ind IndicatorType) *Packet {
	return &Packet{Seq: seq, Indicator: ind}
}

// NewDataPacket создает пакет данных
func NewDataPacket(seq uint16, dt DataType, fields ...Field) *Packet {
	return &Packet{Seq: seq, Data: dt, Fields: fields, isData: true}
}

// IsData сообщает, является ли пакет пакетом данных
func (p *Packet) IsData() bool { return p.isData }

// Marshal сериализует пакет:
//
//	seq(2, BE) kind(1) | индикатор: ind(1)
//	                   | данные: type(1) n(1) { field(1) len(2, BE) bytes }
func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, 3, 16)
	binary.BigEndian.PutUint16(buf, p.Seq)

	if !p.isData {
		buf[2] = packetKindIndicator
		return append(buf, byte(p.Indicator)), nil
	}

	buf[2] = packetKindData
	if len(p.Fields) > 255 {
		return nil, newGatewayError(ErrorCodeBadPacket, "слишком много полей: %d", len(p.Fields))
	}
	buf = append(buf, byte(p.Data), byte(len(p.Fields)))
	for _, f := range p.Fields {
		if len(f.Data) > MaxFieldLen {
			return nil, newGatewayError(ErrorCodeOversizedPayload,
				"поле %s длиной %d превышает предел %d", f.Type, len(f.Data), MaxFieldLen)
		}
		buf = append(buf, byte(f.Type))
		var ln [2]byte
		binary.BigEndian.PutUint16(ln[:], uint16(len(f.Data)))
		buf = append(buf, ln[:]...)
		buf = append(buf, f.Data...)
	}
	return buf, nil
}

// UnmarshalPacket разбирает пакет IFP
func UnmarshalPacket(data []byte) (*Packet, error) {
	if len(data) < 4 {
		return nil, newGatewayError(ErrorCodeBadPacket, "короткий пакет: %d октетов", len(data))
	}
	p := &Packet{Seq: binary.BigEndian.Uint16(data)}
	switch data[2] {
	case packetKindIndicator:
		p.Indicator = IndicatorType(data[3])
		return p, nil

	case packetKindData:
		if len(data) < 5 {
			return nil, newGatewayError(ErrorCodeBadPacket, "усеченный пакет данных")
		}
		p.isData = true
		p.Data = DataType(data[3])
		n := int(data[4])
		rest := data[5:]
		for i := 0; i < n; i++ {
			if len(rest) < 3 {
				return nil, newGatewayError(ErrorCodeBadPacket, "усеченное поле %d", i)
			}
			ft := FieldType(rest[0])
			ln := int(binary.BigEndian.Uint16(rest[1:]))
			rest = rest[3:]
			if ln > len(rest) {
				return nil, newGatewayError(ErrorCodeBadPacket,
					"длина поля %d выходит за пакет: %d > %d", i, ln, len(rest))
			}
			var payload []byte
			if ln > 0 {
				payload = append([]byte(nil), rest[:ln]...)
			}
			p.Fields = append(p.Fields, Field{Type: ft, Data: payload})
			rest = rest[ln:]
		}
		if len(rest) != 0 {
			return nil, newGatewayError(ErrorCodeBadPacket, "%d лишних октетов в хвосте", len(rest))
		}
		return p, nil

	default:
		return nil, newGatewayError(ErrorCodeBadPacket, "неизвестный вид пакета 0x%02X", data[2])
	}
}
