package t38

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSDPOfferRoundTrip проверяет сборку предложения и его разбор
func TestSDPOfferRoundTrip(t *testing.T) {
	params := DefaultSDPParams()
	params.MaxBitRate = 9600
	params.FillBitRemoval = true

	offer := BuildOffer("192.0.2.10", 49170, params)
	raw, err := offer.Marshal()
	require.NoError(t, err)

	// разбор через сериализацию имитирует партнера
	parsed := &sdp.SessionDescription{}
	require.NoError(t, parsed.Unmarshal(raw))

	got, addr, err := ParseAnswer(parsed)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10:49170", addr)
	assert.Equal(t, 9600, got.MaxBitRate)
	assert.Equal(t, params.MaxDatagram, got.MaxDatagram)
	assert.Equal(t, "transferredTCF", got.RateManagement)
	assert.Equal(t, "t38UDPRedundancy", got.UDPEC)
	assert.True(t, got.FillBitRemoval)
}

// TestSDPAnswerIntersection проверяет ужатие параметров в ответе
func TestSDPAnswerIntersection(t *testing.T) {
	local := DefaultSDPParams() // 14400
	offered := DefaultSDPParams()
	offered.MaxBitRate = 9600
	offered.MaxDatagram = 512
	offered.ECMEnabled = false

	answer := BuildAnswer("198.51.100.1", 5004, local, offered)
	got, _, err := ParseAnswer(answer)
	require.NoError(t, err)
	assert.Equal(t, 9600, got.MaxBitRate, "скорость ужимается до предложенной")
	assert.Equal(t, 512, got.MaxDatagram)
}

// TestSDPNoImageMedia проверяет отказ на SDP без image медиа
func TestSDPNoImageMedia(t *testing.T) {
	desc := &sdp.SessionDescription{}
	_, _, err := ParseAnswer(desc)
	require.Error(t, err)
	assert.True(t, IsGatewayError(err, ErrorCodeNoImageMedia))
}
