package t38

import (
	"encoding/binary"
)

// Инкапсуляция в духе UDPTL (T.38 приложение A): каждая датаграмма
// несет первичный пакет IFP и избыточные копии предыдущих. Потеря
// одиночной датаграммы восполняется копией из следующей без
// повторной передачи; номера пакетов в копиях уже записаны в самих
// пакетах IFP.
//
// Формат датаграммы:
//
//	primLen(2, BE) primary n(1) { len(2, BE) packet }
//
// Копии идут от самой свежей к самой старой.

// DefaultRedundancy количество избыточных копий по умолчанию
const DefaultRedundancy = 3

// udptlEncoder собирает датаграммы с избыточностью
type udptlEncoder struct {
	redundancy int
	history    [][]byte
}

func newUDPTLEncoder(redundancy int) *udptlEncoder {
	if redundancy < 0 {
		redundancy = 0
	}
	return &udptlEncoder{redundancy: redundancy}
}

// encode упаковывает первичный пакет вместе с накопленной историей
// и запоминает его для последующих датаграмм
func (e *udptlEncoder) encode(primary []byte) []byte {
	buf := make([]byte, 2, 2+len(primary)+1+e.redundancy*(2+len(primary)))
	binary.BigEndian.PutUint16(buf, uint16(len(primary)))
	buf = append(buf, primary...)
	buf = append(buf, byte(len(e.history)))
	for i := len(e.history) - 1; i >= 0; i-- {
		var ln [2]byte
		binary.BigEndian.PutUint16(ln[:], uint16(len(e.history[i])))
		buf = append(buf, ln[:]...)
		buf = append(buf, e.history[i]...)
	}

	e.history = append(e.history, append([]byte(nil), primary...))
	if len(e.history) > e.redundancy {
		e.history = e.history[len(e.history)-e.redundancy:]
	}
	return buf
}

// decodeUDPTL разбирает датаграмму на первичный пакет и копии
func decodeUDPTL(datagram []byte) (primary []byte, redundant [][]byte, err error) {
	if len(datagram) < 3 {
		return nil, nil, newGatewayError(ErrorCodeBadDatagram,
			"короткая датаграмма: %d октетов", len(datagram))
	}
	primLen := int(binary.BigEndian.Uint16(datagram))
	rest := datagram[2:]
	if primLen > len(rest)-1 {
		return nil, nil, newGatewayError(ErrorCodeBadDatagram,
			"длина первичного пакета %d выходит за датаграмму", primLen)
	}
	primary = rest[:primLen]
	rest = rest[primLen:]

	n := int(rest[0])
	rest = rest[1:]
	for i := 0; i < n; i++ {
		if len(rest) < 2 {
			return nil, nil, newGatewayError(ErrorCodeBadDatagram, "усеченная копия %d", i)
		}
		ln := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if ln > len(rest) {
			return nil, nil, newGatewayError(ErrorCodeBadDatagram,
				"длина копии %d выходит за датаграмму", i)
		}
		redundant = append(redundant, rest[:ln])
		rest = rest[ln:]
	}
	return primary, redundant, nil
}
