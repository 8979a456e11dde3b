// Команда t38gw принимает факсимильные вызовы по SIP и терминирует их
// шлюзом T.38: на INVITE с image/udptl медиа отвечает согласованным SDP,
// поднимает тракт UDPTL и принимает документ сессией T.30. Принятые
// страницы складываются в выходной каталог в формате PBM.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/sdp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/soft_fax/pkg/t30"
	"github.com/arzzra/soft_fax/pkg/t38"
	"github.com/arzzra/soft_fax/pkg/t4"
)

type logConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type config struct {
	SIPAddr     string    `yaml:"sipAddr"`
	MediaHost   string    `yaml:"mediaHost"`
	MetricsAddr string    `yaml:"metricsAddr"`
	Ident       string    `yaml:"ident"`
	OutputDir   string    `yaml:"outputDir"`
	CallTimeoutSec int    `yaml:"callTimeoutSec"`
	Redundancy  int       `yaml:"redundancy"`
	DSCP        int       `yaml:"dscp"`
	Debug       bool      `yaml:"debug"`
	Logs        logConfig `yaml:"logs"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	if cfg.SIPAddr == "" {
		cfg.SIPAddr = "0.0.0.0:5060"
	}
	if cfg.MediaHost == "" {
		host, _, err := net.SplitHostPort(cfg.SIPAddr)
		if err != nil || host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		cfg.MediaHost = host
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = "127.0.0.1:9438"
	}
	if cfg.Ident == "" {
		cfg.Ident = "+7 495 0000000"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(".", "fax")
	}
	if cfg.CallTimeoutSec <= 0 {
		cfg.CallTimeoutSec = 300
	}
	if cfg.Redundancy <= 0 {
		cfg.Redundancy = t38.DefaultRedundancy
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.OutputDir, "logs")
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	return cfg, nil
}

func setupLogging(cfg config) error {
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile := filepath.Join(cfg.Logs.Directory, "t38gw.log")
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}

// activeCall принятый вызов: SIP сторона плюс факсовый тракт
type activeCall struct {
	callID    string
	transport *t38.UDPTransport
	gateway   *t38.Gateway
	session   *t30.FaxSession
	cancel    context.CancelFunc
}

type gatewayServer struct {
	cfg     config
	logger  t30.StructuredLogger
	metrics *t30.Metrics

	mu    sync.Mutex
	calls map[string]*activeCall
}

func main() {
	configPath := flag.String("config", "config/t38gw.yaml", "путь к файлу конфигурации")
	sipAddr := flag.String("sip", "", "адрес SIP (перекрывает конфигурацию)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Ошибка чтения конфигурации: %v", err)
	}
	if *sipAddr != "" {
		cfg.SIPAddr = *sipAddr
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("Ошибка создания выходного каталога: %v", err)
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Ошибка настройки логирования: %v", err)
	}

	level := t30.LogLevelInfo
	if cfg.Debug {
		level = t30.LogLevelDebug
	}

	registry := prometheus.NewRegistry()
	gw := &gatewayServer{
		cfg:     cfg,
		logger:  t30.NewDefaultLogger(os.Stderr, level),
		metrics: t30.NewMetrics(registry),
		calls:   make(map[string]*activeCall),
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgentHostname(cfg.MediaHost),
	)
	if err != nil {
		log.Fatalf("Ошибка создания User Agent: %v", err)
	}
	defer ua.Close()

	server, err := sipgo.NewServer(ua)
	if err != nil {
		log.Fatalf("Ошибка создания сервера: %v", err)
	}

	server.OnInvite(gw.handleInvite)
	server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {})
	server.OnBye(gw.handleBye)
	server.OnCancel(gw.handleCancel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Printf("SIP сервер слушает на %s", cfg.SIPAddr)
		if err := server.ListenAndServe(ctx, "udp", cfg.SIPAddr); err != nil {
			log.Printf("Ошибка SIP сервера: %v", err)
			cancel()
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		log.Printf("Метрики на http://%s/metrics", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("Ошибка HTTP сервера метрик: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("Получен сигнал %v, завершение", sig)
	case <-ctx.Done():
	}

	gw.shutdown()
}

// handleInvite согласует T.38 медиа и запускает приемную сессию
func (g *gatewayServer) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	log.Printf("Входящий вызов %s от %s", callID, req.From().Address.String())

	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal(req.Body()); err != nil {
		log.Printf("Вызов %s: негодный SDP: %v", callID, err)
		respond(req, tx, sip.StatusBadRequest, "Bad SDP")
		return
	}

	offered, remoteAddr, err := t38.ParseAnswer(offer)
	if err != nil {
		log.Printf("Вызов %s: в предложении нет T.38 медиа: %v", callID, err)
		respond(req, tx, 488, "Not Acceptable Here")
		return
	}

	tc := t38.DefaultTransportConfig()
	tc.LocalAddr = net.JoinHostPort(g.cfg.MediaHost, "0")
	tc.RemoteAddr = remoteAddr
	tc.DSCP = g.cfg.DSCP
	transport, err := t38.NewUDPTransport(tc)
	if err != nil {
		log.Printf("Вызов %s: ошибка создания тракта: %v", callID, err)
		respond(req, tx, sip.StatusInternalServerError, "Transport Failure")
		return
	}

	gwConfig := t38.DefaultGatewayConfig(transport)
	gwConfig.Redundancy = g.cfg.Redundancy
	gwConfig.Logger = g.logger
	gateway, err := t38.NewGateway(gwConfig)
	if err != nil {
		transport.Close()
		log.Printf("Вызов %s: ошибка создания шлюза: %v", callID, err)
		respond(req, tx, sip.StatusInternalServerError, "Gateway Failure")
		return
	}

	sessionConfig := t30.DefaultConfig(t30.RoleAnswerer)
	sessionConfig.LocalIdent = g.cfg.Ident
	sessionConfig.Capabilities.ECM = sessionConfig.Capabilities.ECM && offered.ECMEnabled
	sessionConfig.Logger = g.logger
	sessionConfig.Metrics = g.metrics
	session := t30.NewSession(gateway, sessionConfig)

	localPort := transport.LocalAddr().(*net.UDPAddr).Port
	answer := t38.BuildAnswer(g.cfg.MediaHost, localPort, t38.DefaultSDPParams(), offered)
	body, err := answer.Marshal()
	if err != nil {
		transport.Close()
		log.Printf("Вызов %s: ошибка сборки SDP: %v", callID, err)
		respond(req, tx, sip.StatusInternalServerError, "SDP Failure")
		return
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", body)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(res); err != nil {
		transport.Close()
		log.Printf("Вызов %s: ошибка отправки ответа: %v", callID, err)
		return
	}

	callCtx, callCancel := context.WithTimeout(context.Background(),
		time.Duration(g.cfg.CallTimeoutSec)*time.Second)
	call := &activeCall{
		callID:    callID,
		transport: transport,
		gateway:   gateway,
		session:   session,
		cancel:    callCancel,
	}
	g.mu.Lock()
	g.calls[callID] = call
	g.mu.Unlock()

	session.Start()
	go g.watchCall(callCtx, call)
}

// watchCall дожидается завершения сессии и сохраняет принятый документ
func (g *gatewayServer) watchCall(ctx context.Context, call *activeCall) {
	defer g.dropCall(call.callID)

	result, err := call.session.Wait(ctx)
	if err != nil {
		log.Printf("Вызов %s: сессия не завершилась: %v", call.callID, err)
		call.session.Abort()
		return
	}

	stats := call.gateway.Stats()
	log.Printf("Вызов %s: сессия %s завершена, страниц=%d, принято пакетов=%d потеряно=%d восстановлено=%d",
		call.callID, result.SessionID, result.PagesConfirmed,
		stats.PacketsReceived, stats.Lost, stats.Recovered)
	if result.Err != nil {
		log.Printf("Вызов %s: ошибка сессии: %v", call.callID, result.Err)
		return
	}

	for i, page := range call.session.ReceivedPages() {
		name := fmt.Sprintf("%s-p%d.pbm", result.SessionID, i+1)
		path := filepath.Join(g.cfg.OutputDir, name)
		if err := writePBM(path, page); err != nil {
			log.Printf("Вызов %s: ошибка записи страницы %d: %v", call.callID, i+1, err)
			continue
		}
		log.Printf("Вызов %s: страница %d сохранена в %s", call.callID, i+1, path)
	}
}

func (g *gatewayServer) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	log.Printf("Вызов %s: получен BYE", callID)
	respond(req, tx, sip.StatusOK, "OK")

	g.mu.Lock()
	call := g.calls[callID]
	g.mu.Unlock()
	if call != nil {
		call.session.Abort()
	}
}

func (g *gatewayServer) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	log.Printf("Вызов %s: получен CANCEL", callID)
	respond(req, tx, sip.StatusOK, "OK")

	g.mu.Lock()
	call := g.calls[callID]
	g.mu.Unlock()
	if call != nil {
		call.session.Abort()
	}
}

func (g *gatewayServer) dropCall(callID string) {
	g.mu.Lock()
	call := g.calls[callID]
	delete(g.calls, callID)
	g.mu.Unlock()
	if call != nil {
		call.cancel()
		call.gateway.Hangup()
	}
}

func (g *gatewayServer) shutdown() {
	g.mu.Lock()
	calls := make([]*activeCall, 0, len(g.calls))
	for _, call := range g.calls {
		calls = append(calls, call)
	}
	g.mu.Unlock()

	for _, call := range calls {
		call.session.Abort()
		g.dropCall(call.callID)
	}
	log.Printf("Завершено, активных вызовов было: %d", len(calls))
}

func respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		log.Printf("Ошибка отправки ответа %d: %v", code, err)
	}
}

// writePBM сохраняет страницу в двоичном PBM (P4): строки растра уже
// упакованы по 8 пикселей в октет старшим битом вперед, как того и
// требует формат
func writePBM(path string, page *t4.Page) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := "P4\n" + strconv.Itoa(page.Width) + " " + strconv.Itoa(page.Height()) + "\n"
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	for _, row := range page.Rows {
		if _, err := f.Write(row); err != nil {
			return err
		}
	}
	return nil
}
