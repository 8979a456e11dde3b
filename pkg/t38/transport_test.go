package t38

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// datagramSink копит принятые датаграммы для проверок
type datagramSink struct {
	mu  sync.Mutex
	got [][]byte
}

func (s *datagramSink) receive(d []byte) {
	s.mu.Lock()
	s.got = append(s.got, append([]byte(nil), d...))
	s.mu.Unlock()
}

func (s *datagramSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *datagramSink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.got))
	copy(out, s.got)
	return out
}

// TestTCPTransportRoundTrip проверяет обмен по TCP тракту: границы
// датаграмм сохраняются двухоктетным префиксом длины
func TestTCPTransportRoundTrip(t *testing.T) {
	serverCfg := DefaultTransportConfig()
	serverCfg.LocalAddr = "127.0.0.1:0"
	server, err := NewTCPTransportServer(serverCfg)
	require.NoError(t, err)
	defer server.Close()

	var serverSink datagramSink
	server.SetReceiver(serverSink.receive)

	clientCfg := DefaultTransportConfig()
	clientCfg.RemoteAddr = server.LocalAddr().String()
	client, err := NewTCPTransportClient(clientCfg)
	require.NoError(t, err)
	defer client.Close()

	var clientSink datagramSink
	client.SetReceiver(clientSink.receive)

	// две датаграммы вплотную: поток TCP не должен их склеить
	require.NoError(t, client.Send([]byte{0x01, 0x02, 0x03}))
	require.NoError(t, client.Send([]byte{0xAA}))

	require.Eventually(t, func() bool { return serverSink.count() == 2 },
		2*time.Second, 10*time.Millisecond, "сервер должен принять обе датаграммы")
	got := serverSink.all()
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got[0])
	assert.Equal(t, []byte{0xAA}, got[1])

	// после принятого соединения сервер может отвечать
	require.NoError(t, server.Send([]byte{0x7E, 0x7E}))
	require.Eventually(t, func() bool { return clientSink.count() == 1 },
		2*time.Second, 10*time.Millisecond, "клиент должен принять ответ")
	assert.Equal(t, []byte{0x7E, 0x7E}, clientSink.all()[0])
}

// TestTCPTransportOversized проверяет отказ для датаграммы, не
// помещающейся в префикс длины
func TestTCPTransportOversized(t *testing.T) {
	serverCfg := DefaultTransportConfig()
	serverCfg.LocalAddr = "127.0.0.1:0"
	server, err := NewTCPTransportServer(serverCfg)
	require.NoError(t, err)
	defer server.Close()
	server.SetReceiver(func([]byte) {})

	clientCfg := DefaultTransportConfig()
	clientCfg.RemoteAddr = server.LocalAddr().String()
	client, err := NewTCPTransportClient(clientCfg)
	require.NoError(t, err)
	defer client.Close()

	err = client.Send(make([]byte, 0x10000))
	require.Error(t, err)
	assert.True(t, IsGatewayError(err, ErrorCodeOversizedPayload))
}

// TestRTPTransportRoundTrip проверяет перенос датаграмм полезной
// нагрузкой RTP и обучение удаленному адресу по первому пакету
func TestRTPTransportRoundTrip(t *testing.T) {
	aCfg := DefaultTransportConfig()
	aCfg.LocalAddr = "127.0.0.1:0"
	a, err := NewRTPTransport(aCfg)
	require.NoError(t, err)
	defer a.Close()

	// удаленный адрес еще не известен
	err = a.Send([]byte{0x01})
	require.Error(t, err)
	assert.True(t, IsGatewayError(err, ErrorCodeNoRemoteAddr))

	bCfg := DefaultTransportConfig()
	bCfg.LocalAddr = "127.0.0.1:0"
	bCfg.RemoteAddr = a.LocalAddr().String()
	b, err := NewRTPTransport(bCfg)
	require.NoError(t, err)
	defer b.Close()

	var aSink, bSink datagramSink
	a.SetReceiver(aSink.receive)
	b.SetReceiver(bSink.receive)

	require.NoError(t, b.Send([]byte{0x10, 0x20}))
	require.Eventually(t, func() bool { return aSink.count() == 1 },
		2*time.Second, 10*time.Millisecond, "датаграмма в RTP пакете должна дойти")
	assert.Equal(t, []byte{0x10, 0x20}, aSink.all()[0])

	// адрес партнера выучен по входящему пакету, ответ проходит
	require.NoError(t, a.Send([]byte{0x30}))
	require.Eventually(t, func() bool { return bSink.count() == 1 },
		2*time.Second, 10*time.Millisecond, "ответ должен дойти")
	assert.Equal(t, []byte{0x30}, bSink.all()[0])
}

// freeUDPPort резервирует свободный UDP порт на loopback
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

// TestDTLSTransportRoundTrip проверяет обмен по шифрованному тракту с
// самоподписанным сертификатом
func TestDTLSTransportRoundTrip(t *testing.T) {
	cert, err := selfsign.GenerateSelfSigned()
	require.NoError(t, err)

	addr := fmt.Sprintf("127.0.0.1:%d", freeUDPPort(t))

	type accepted struct {
		transport *DTLSTransport
		err       error
	}
	serverCh := make(chan accepted, 1)
	go func() {
		cfg := DefaultDTLSTransportConfig()
		cfg.LocalAddr = addr
		cfg.Certificates = []tls.Certificate{cert}
		transport, err := NewDTLSTransportServer(cfg)
		serverCh <- accepted{transport, err}
	}()

	// серверу нужно успеть занять порт до первого ClientHello
	time.Sleep(100 * time.Millisecond)

	clientCfg := DefaultDTLSTransportConfig()
	clientCfg.RemoteAddr = addr
	clientCfg.Certificates = []tls.Certificate{cert}
	clientCfg.InsecureSkipVerify = true
	clientCfg.HandshakeTimeout = 5 * time.Second
	client, err := NewDTLSTransportClient(clientCfg)
	require.NoError(t, err, "рукопожатие DTLS должно состояться")
	defer client.Close()

	res := <-serverCh
	require.NoError(t, res.err)
	server := res.transport
	defer server.Close()

	var serverSink, clientSink datagramSink
	server.SetReceiver(serverSink.receive)
	client.SetReceiver(clientSink.receive)

	require.NoError(t, client.Send([]byte{0x05, 0x06}))
	require.Eventually(t, func() bool { return serverSink.count() == 1 },
		2*time.Second, 10*time.Millisecond, "сервер должен расшифровать датаграмму")
	assert.Equal(t, []byte{0x05, 0x06}, serverSink.all()[0])

	require.NoError(t, server.Send([]byte{0x07}))
	require.Eventually(t, func() bool { return clientSink.count() == 1 },
		2*time.Second, 10*time.Millisecond, "клиент должен расшифровать ответ")
	assert.Equal(t, []byte{0x07}, clientSink.all()[0])
}
