package t38

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPacketRoundTrip проверяет сериализацию пакетов IFP
func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{"индикатор CNG", NewIndicatorPacket(0, IndicatorCNG)},
		{"индикатор тренировки", NewIndicatorPacket(65535, IndicatorV17_14400LongTraining)},
		{"данные без полей", NewDataPacket(7, DataV21)},
		{"данные HDLC", NewDataPacket(1000, DataV21,
			Field{Type: FieldHDLCData, Data: []byte{0xFF, 0x13, 0x84}},
			Field{Type: FieldHDLCSigEnd},
		)},
		{"данные страницы", NewDataPacket(42, DataV17_14400,
			Field{Type: FieldT4NonECMData, Data: make([]byte, MaxFieldLen)},
		)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.packet.Marshal()
			require.NoError(t, err)

			got, err := UnmarshalPacket(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.packet.Seq, got.Seq)
			assert.Equal(t, tt.packet.IsData(), got.IsData())
			if tt.packet.IsData() {
				assert.Equal(t, tt.packet.Data, got.Data)
				require.Len(t, got.Fields, len(tt.packet.Fields))
				for i, f := range tt.packet.Fields {
					assert.Equal(t, f.Type, got.Fields[i].Type)
					assert.Equal(t, len(f.Data), len(got.Fields[i].Data))
				}
			} else {
				assert.Equal(t, tt.packet.Indicator, got.Indicator)
			}
		})
	}
}

// TestPacketOversizedField проверяет предел длины поля
func TestPacketOversizedField(t *testing.T) {
	p := NewDataPacket(1, DataV17_14400,
		Field{Type: FieldT4NonECMData, Data: make([]byte, MaxFieldLen+1)})
	_, err := p.Marshal()
	require.Error(t, err)
	assert.True(t, IsGatewayError(err, ErrorCodeOversizedPayload))
}

// TestUnmarshalTruncated проверяет отбраковку усеченных пакетов
func TestUnmarshalTruncated(t *testing.T) {
	good, err := NewDataPacket(5, DataV21,
		Field{Type: FieldHDLCData, Data: []byte{1, 2, 3, 4}}).Marshal()
	require.NoError(t, err)

	for cut := 1; cut < len(good); cut++ {
		_, err := UnmarshalPacket(good[:cut])
		assert.Error(t, err, "усечение до %d октетов", cut)
	}
}

// TestTrainingIndicators проверяет соответствие скоростей и индикаторов
func TestTrainingIndicators(t *testing.T) {
	for _, rate := range []int{2400, 4800, 7200, 9600, 12000, 14400} {
		ind := TrainingIndicator(rate)
		got, ok := TrainingRate(ind)
		require.True(t, ok, "скорость %d", rate)
		assert.Equal(t, rate, got)
	}

	_, ok := TrainingRate(IndicatorCED)
	assert.False(t, ok, "CED не тренировочный индикатор")
}

// TestUDPTLRoundTrip проверяет кодек датаграмм с избыточностью
func TestUDPTLRoundTrip(t *testing.T) {
	enc := newUDPTLEncoder(2)

	payloads := [][]byte{{1}, {2, 2}, {3, 3, 3}, {4}}
	for i, p := range payloads {
		datagram := enc.encode(p)
		primary, redundant, err := decodeUDPTL(datagram)
		require.NoError(t, err)
		assert.Equal(t, p, primary)

		// копии идут от свежей к старой и ограничены глубиной
		want := i
		if want > 2 {
			want = 2
		}
		require.Len(t, redundant, want)
		if want > 0 {
			assert.Equal(t, payloads[i-1], redundant[0])
		}
	}
}

// TestUDPTLBadDatagram проверяет отбраковку битых датаграмм
func TestUDPTLBadDatagram(t *testing.T) {
	_, _, err := decodeUDPTL([]byte{0x00})
	assert.True(t, IsGatewayError(err, ErrorCodeBadDatagram))

	// заявленная длина больше фактической
	_, _, err = decodeUDPTL([]byte{0x00, 0x10, 0x01})
	assert.True(t, IsGatewayError(err, ErrorCodeBadDatagram))
}
