package t30

import (
	"fmt"
	"strings"
)

// Кадры управления T.30 передаются как HDLC кадры с адресным октетом
// 0xFF и управляющим октетом 0x03 (промежуточный) или 0x13
// (заключительный кадр последовательности). Третий октет — поле FCF,
// дальше опциональное информационное поле FIF.

const (
	frameAddress      = 0xFF
	frameControl      = 0x03
	frameControlFinal = 0x13
)

// FrameType код поля FCF. Значения следуют перечню spandsp
// (бит-инвертированная запись кодов T.30 §5.3.5).
type FrameType byte

const (
	// Фаза A/B: идентификация и возможности
	FrameNSF FrameType = 0x20 // нестандартные возможности
	FrameCSI FrameType = 0x40 // идентификатор вызываемой станции
	FrameDIS FrameType = 0x80 // возможности вызываемой станции
	FrameNSC FrameType = 0x21
	FrameCIG FrameType = 0x41
	FrameDTC FrameType = 0x81 // запрос передачи (polling)
	FrameNSS FrameType = 0x23
	FrameTSI FrameType = 0x43 // идентификатор передающей станции
	FrameDCS FrameType = 0x83 // командный набор параметров

	// Ответы фазы B
	FrameCFR FrameType = 0x84 // подтверждение приема, тренировка успешна
	FrameFTT FrameType = 0x44 // тренировка не удалась

	// Команды конца страницы (фаза D)
	FrameEOM FrameType = 0x8F // конец страницы, возврат в фазу B
	FrameMPS FrameType = 0x4F // конец страницы, следующая в той же фазе C
	FrameEOP FrameType = 0x2F // конец процедуры

	// Ответы фазы D
	FrameMCF FrameType = 0x8C // страница подтверждена
	FrameRTP FrameType = 0xCC // повтор после ретрейна, страница принята
	FrameRTN FrameType = 0x4C // повтор после ретрейна, страница не принята

	// Управление сессией
	FrameDCN FrameType = 0xFB // разъединение
	FrameCRP FrameType = 0x1A // просьба повторить команду

	// Режим коррекции ошибок (T.30 приложение A)
	FrameFCD FrameType = 0x06 // кадр данных ECM (FIF: номер строки + данные)
	FrameRCP FrameType = 0x86 // конец блока данных
	FramePPS FrameType = 0xBF // конец частичной страницы (FIF: команда + счетчик строк)
	FramePPR FrameType = 0xBD // запрос повтора (FIF: битовая карта строк)
	FrameCTC FrameType = 0x48 // продолжить с пониженной скоростью
	FrameCTR FrameType = 0xC8 // подтверждение CTC
)

// String возвращает мнемонику кадра
func (t FrameType) String() string {
	switch t {
	case FrameNSF:
		return "NSF"
	case FrameCSI:
		return "CSI"
	case FrameDIS:
		return "DIS"
	case FrameNSC:
		return "NSC"
	case FrameCIG:
		return "CIG"
	case FrameDTC:
		return "DTC"
	case FrameNSS:
		return "NSS"
	case FrameTSI:
		return "TSI"
	case FrameDCS:
		return "DCS"
	case FrameCFR:
		return "CFR"
	case FrameFTT:
		return "FTT"
	case FrameEOM:
		return "EOM"
	case FrameMPS:
		return "MPS"
	case FrameEOP:
		return "EOP"
	case FrameMCF:
		return "MCF"
	case FrameRTP:
		return "RTP"
	case FrameRTN:
		return "RTN"
	case FrameDCN:
		return "DCN"
	case FrameCRP:
		return "CRP"
	case FrameFCD:
		return "FCD"
	case FrameRCP:
		return "RCP"
	case FramePPS:
		return "PPS"
	case FramePPR:
		return "PPR"
	case FrameCTC:
		return "CTC"
	case FrameCTR:
		return "CTR"
	default:
		return fmt.Sprintf("FCF(0x%02X)", byte(t))
	}
}

// ControlFrame разобранный кадр управления
type ControlFrame struct {
	Type  FrameType
	Final bool
	FIF   []byte
}

// buildFrame собирает полезную нагрузку HDLC кадра управления
func buildFrame(t FrameType, final bool, fif []byte) []byte {
	ctrl := byte(frameControl)
	if final {
		ctrl = frameControlFinal
	}
	payload := make([]byte, 0, 3+len(fif))
	payload = append(payload, frameAddress, ctrl, byte(t))
	return append(payload, fif...)
}

// parseFrame разбирает полезную нагрузку HDLC кадра управления.
// Возвращает false для кадров, не являющихся кадрами T.30
// (неверный адресный или управляющий октет, слишком короткие).
func parseFrame(payload []byte) (ControlFrame, bool) {
	if len(payload) < 3 || payload[0] != frameAddress {
		return ControlFrame{}, false
	}
	if payload[1]&^0x10 != frameControl {
		return ControlFrame{}, false
	}
	cf := ControlFrame{
		Type:  FrameType(payload[2]),
		Final: payload[1]&0x10 != 0,
	}
	if len(payload) > 3 {
		cf.FIF = append([]byte(nil), payload[3:]...)
	}
	return cf, true
}

// identLength длина идентификатора станции по T.30: ровно 20 символов,
// дополнение пробелами слева, передача в обратном порядке
const identLength = 20

// encodeIdent кодирует идентификатор станции (CSI/TSI) в FIF
func encodeIdent(ident string) []byte {
	if len(ident) > identLength {
		ident = ident[:identLength]
	}
	padded := strings.Repeat(" ", identLength-len(ident)) + ident
	fif := make([]byte, identLength)
	for i := 0; i < identLength; i++ {
		fif[i] = padded[identLength-1-i]
	}
	return fif
}

// decodeIdent разбирает FIF кадра CSI/TSI
func decodeIdent(fif []byte) string {
	n := len(fif)
	if n > identLength {
		n = identLength
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = fif[n-1-i]
	}
	return strings.TrimSpace(string(out))
}
