package t30

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_fax/pkg/t4"
)

// TestNegotiateSymmetry проверяет симметричность согласования
func TestNegotiateSymmetry(t *testing.T) {
	a := Capabilities{
		Modems:     ModemV17 | ModemV29,
		Resolution: ResolutionSuperfine,
		Width:      WidthA3,
		Length:     LengthUnlimited,
		ECM:        true,
		Scheme:     t4.SchemeMMR,
	}
	b := Capabilities{
		Modems:     ModemV29 | ModemV27ter,
		Resolution: ResolutionFine,
		Width:      WidthA4,
		Length:     LengthA4,
		ECM:        true,
		Scheme:     t4.SchemeMR,
	}

	ab, err := Negotiate(a, b)
	require.NoError(t, err)
	ba, err := Negotiate(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba, "результат не должен зависеть от порядка сторон")

	assert.Equal(t, ModemV29, ab.Modems)
	assert.Equal(t, 9600, ab.BitRate)
	assert.Equal(t, ResolutionFine, ab.Resolution)
	assert.Equal(t, WidthA4, ab.Width)
	assert.Equal(t, LengthA4, ab.Length)
	assert.True(t, ab.ECM)
	assert.Equal(t, t4.SchemeMR, ab.Scheme)
}

// TestNegotiateNoCommonModem проверяет отказ при пустом пересечении модемов
func TestNegotiateNoCommonModem(t *testing.T) {
	a := Capabilities{Modems: ModemV17}
	b := Capabilities{Modems: ModemV27ter}
	_, err := Negotiate(a, b)
	assert.ErrorIs(t, err, ErrNegotiationFailed)
}

// TestNegotiateMMRRequiresECM проверяет понижение MMR до MR без ECM
func TestNegotiateMMRRequiresECM(t *testing.T) {
	a := DefaultCapabilities()
	a.Scheme = t4.SchemeMMR
	a.ECM = false
	b := DefaultCapabilities()
	b.Scheme = t4.SchemeMMR

	neg, err := Negotiate(a, b)
	require.NoError(t, err)
	assert.False(t, neg.ECM)
	assert.Equal(t, t4.SchemeMR, neg.Scheme, "MMR без ECM недопустим")
}

// TestFallbackLadder проверяет лестницу отката скорости
func TestFallbackLadder(t *testing.T) {
	m := DefaultModemSupport
	assert.Equal(t, 14400, m.MaxRate())
	assert.Equal(t, 12000, m.FallbackRate(14400))
	assert.Equal(t, 9600, m.FallbackRate(12000))
	assert.Equal(t, 7200, m.FallbackRate(9600))
	assert.Equal(t, 4800, m.FallbackRate(7200))
	assert.Equal(t, 2400, m.FallbackRate(4800))
	assert.Equal(t, 0, m.FallbackRate(2400), "ниже 2400 отката нет")

	// без V.29 лестница перешагивает на V.27ter
	onlyEdges := ModemV17 | ModemV27ter
	assert.Equal(t, 4800, onlyEdges.FallbackRate(12000))
}

// TestDISRoundTrip проверяет битовую таблицу DIS
func TestDISRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
	}{
		{"по умолчанию", DefaultCapabilities()},
		{"минимальный приемник", Capabilities{
			Modems:     ModemV27ter,
			Resolution: ResolutionStandard,
			Width:      WidthA4,
			Length:     LengthA4,
			Scheme:     t4.SchemeMH,
		}},
		{"максимальный приемник", Capabilities{
			Modems:     DefaultModemSupport,
			Resolution: ResolutionSuperfine,
			Width:      WidthA3,
			Length:     LengthUnlimited,
			ECM:        true,
			Scheme:     t4.SchemeMMR,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fif := EncodeDIS(tt.caps)
			got := DecodeDIS(fif)
			assert.Equal(t, tt.caps.Modems, got.Modems)
			assert.Equal(t, tt.caps.Resolution, got.Resolution)
			assert.Equal(t, tt.caps.Width, got.Width)
			assert.Equal(t, tt.caps.Length, got.Length)
			assert.Equal(t, tt.caps.ECM, got.ECM)
			assert.Equal(t, tt.caps.Scheme, got.Scheme)
		})
	}
}

// TestDCSRoundTrip проверяет битовую таблицу DCS вместе со скоростью
func TestDCSRoundTrip(t *testing.T) {
	for _, rate := range []int{14400, 12000, 9600, 7200, 4800, 2400} {
		caps := DefaultCapabilities().WithBitRate(rate)
		got := DecodeDCS(EncodeDCS(caps))
		assert.Equal(t, rate, got.BitRate, "скорость %d", rate)
		assert.Equal(t, caps.ECM, got.ECM)
		assert.Equal(t, caps.Resolution, got.Resolution)
	}
}

// TestIdentCodec проверяет кодирование идентификатора станции:
// 20 символов, передаются в обратном порядке
func TestIdentCodec(t *testing.T) {
	fif := encodeIdent("+7 495 1234567")
	require.Len(t, fif, 20)
	// символы идут в обратном порядке: первый октет — последний символ
	assert.Equal(t, byte('7'), fif[0])

	assert.Equal(t, "+7 495 1234567", decodeIdent(fif))

	// лишняя длина усекается до 20 символов
	long := encodeIdent("123456789012345678901234")
	assert.Len(t, long, 20)
	assert.Equal(t, "12345678901234567890", decodeIdent(long))
}

// TestControlFrameCodec проверяет сборку и разбор кадров управления
func TestControlFrameCodec(t *testing.T) {
	tests := []struct {
		name  string
		typ   FrameType
		final bool
		fif   []byte
	}{
		{"DIS заключительный", FrameDIS, true, EncodeDIS(DefaultCapabilities())},
		{"CSI промежуточный", FrameCSI, false, encodeIdent("station")},
		{"MCF без FIF", FrameMCF, true, nil},
		{"PPR с картой", FramePPR, true, make([]byte, 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := buildFrame(tt.typ, tt.final, tt.fif)
			frame, ok := parseFrame(payload)
			require.True(t, ok)
			assert.Equal(t, tt.typ, frame.Type)
			assert.Equal(t, tt.final, frame.Final)
			assert.Equal(t, len(tt.fif), len(frame.FIF))
		})
	}

	// мусор не должен разбираться как кадр
	_, ok := parseFrame([]byte{0x00, 0x13, 0x84})
	assert.False(t, ok, "неверный адресный октет")
	_, ok = parseFrame([]byte{0xFF})
	assert.False(t, ok, "усеченный кадр")
}

// TestECMFIF проверяет кодеки информационных полей ECM
func TestECMFIF(t *testing.T) {
	fif := buildFCDFIF(257, []byte{0xAA, 0xBB})
	row, code, err := parseFCDFIF(fif)
	require.NoError(t, err)
	assert.Equal(t, 257, row)
	assert.Equal(t, []byte{0xAA, 0xBB}, code)

	_, _, err = parseFCDFIF([]byte{0x01})
	assert.Error(t, err, "усеченное поле FCD")

	pps := buildPPSFIF(FrameMPS, 2, 1200)
	cmd, page, rows, err := parsePPSFIF(pps)
	require.NoError(t, err)
	assert.Equal(t, FrameMPS, cmd)
	assert.Equal(t, 2, page)
	assert.Equal(t, 1200, rows)
}
