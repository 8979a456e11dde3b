package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/arzzra/soft_fax/pkg/t30"
	"github.com/arzzra/soft_fax/pkg/t38"
	"github.com/arzzra/soft_fax/pkg/t4"
)

func main() {
	var (
		mode    = flag.String("mode", "loopback", "Режим: loopback, t38, impair")
		pages   = flag.Int("pages", 2, "Количество страниц документа")
		ecm     = flag.Bool("ecm", true, "Режим коррекции ошибок")
		ident   = flag.String("ident", "+7 495 0000000", "Идентификатор станции")
		timeout = flag.Duration("timeout", 30*time.Second, "Предел ожидания сессии")
		debug   = flag.Bool("debug", false, "Подробный лог")
	)
	flag.Parse()

	level := t30.LogLevelInfo
	if *debug {
		level = t30.LogLevelDebug
	}
	logger := t30.NewDefaultLogger(os.Stderr, level)

	switch *mode {
	case "loopback":
		runLoopback(logger, *pages, *ecm, *ident, *timeout)
	case "t38":
		runT38(logger, *pages, *ecm, *ident, *timeout, false)
	case "impair":
		runT38(logger, *pages, *ecm, *ident, *timeout, true)
	default:
		fmt.Printf("Неизвестный режим: %s\n", *mode)
		fmt.Println("Доступные режимы: loopback, t38, impair")
		os.Exit(1)
	}
}

// runLoopback гоняет сессию через пару модемов в памяти
func runLoopback(logger t30.StructuredLogger, pages int, ecm bool, ident string, timeout time.Duration) {
	log.Printf("Запуск сессии через петлевой модем: страниц=%d ecm=%v", pages, ecm)

	txModem, rxModem := t30.NewLoopbackPair()
	runSession(logger, txModem, rxModem, pages, ecm, ident, timeout)
}

// runT38 гоняет сессию через пару шлюзов T.38 поверх петлевого тракта
func runT38(logger t30.StructuredLogger, pages int, ecm bool, ident string, timeout time.Duration, impair bool) {
	log.Printf("Запуск сессии через шлюзы T.38: страниц=%d ecm=%v потери=%v", pages, ecm, impair)

	txWire, rxWire := t38.NewLoopbackTransportPair()
	if impair {
		// Теряем каждую пятую датаграмму и переставляем каждую седьмую:
		// избыточность UDPTL и окно упорядочивания должны это скрыть
		txWire.DropEvery = 5
		rxWire.SwapEvery = 7
	}

	txConfig := t38.DefaultGatewayConfig(txWire)
	txConfig.Logger = logger
	txGateway, err := t38.NewGateway(txConfig)
	if err != nil {
		log.Fatalf("Ошибка создания шлюза передатчика: %v", err)
	}

	rxConfig := t38.DefaultGatewayConfig(rxWire)
	rxConfig.Logger = logger
	rxGateway, err := t38.NewGateway(rxConfig)
	if err != nil {
		log.Fatalf("Ошибка создания шлюза приемника: %v", err)
	}

	runSession(logger, txGateway, rxGateway, pages, ecm, ident, timeout)

	txStats := txGateway.Stats()
	rxStats := rxGateway.Stats()
	log.Printf("Шлюз передатчика: отправлено=%d принято=%d", txStats.PacketsSent, txStats.PacketsReceived)
	log.Printf("Шлюз приемника: отправлено=%d принято=%d дубликатов=%d перестановок=%d потеряно=%d восстановлено=%d",
		rxStats.PacketsSent, rxStats.PacketsReceived,
		rxStats.Duplicates, rxStats.OutOfOrder, rxStats.Lost, rxStats.Recovered)
}

func runSession(logger t30.StructuredLogger, txModem, rxModem t30.Modem, pages int, ecm bool, ident string, timeout time.Duration) {
	document := make([]*t4.Page, pages)
	for i := range document {
		document[i] = testPage(t30.WidthA4.Pixels(), 64, i)
	}

	txConfig := t30.DefaultConfig(t30.RoleCaller)
	txConfig.LocalIdent = ident
	txConfig.Capabilities.ECM = ecm
	txConfig.Document = document
	txConfig.Logger = logger

	rxConfig := t30.DefaultConfig(t30.RoleAnswerer)
	rxConfig.LocalIdent = ident
	rxConfig.Capabilities.ECM = ecm
	rxConfig.Logger = logger

	tx := t30.NewSession(txModem, txConfig)
	rx := t30.NewSession(rxModem, rxConfig)

	// Передатчик первым: отвечающая сторона шлет CED и DIS сразу после старта
	tx.Start()
	rx.Start()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	txResult, err := tx.Wait(ctx)
	if err != nil {
		log.Fatalf("Сессия передатчика не завершилась: %v", err)
	}
	rxResult, err := rx.Wait(ctx)
	if err != nil {
		log.Fatalf("Сессия приемника не завершилась: %v", err)
	}

	printResult("Передатчик", txResult)
	printResult("Приемник", rxResult)

	received := rx.ReceivedPages()
	for i, page := range received {
		if i < len(document) && page.Equal(document[i]) {
			log.Printf("Страница %d: принята без искажений", i+1)
		} else {
			log.Printf("Страница %d: принята с искажениями", i+1)
		}
	}

	if !txResult.OK() || !rxResult.OK() {
		os.Exit(1)
	}
}

func printResult(side string, result *t30.SessionResult) {
	log.Printf("=== %s: сессия %s ===", side, result.SessionID)
	if result.Negotiated != nil {
		log.Printf("Параметры: %s, удаленная станция %q", result.Negotiated, result.RemoteIdent)
	}
	log.Printf("Страниц подтверждено: %d, повторных тренировок: %d, повторов ECM: %d, длительность: %s",
		result.PagesConfirmed, result.Stats.Retrains, result.Stats.ECMRetransmits, result.Stats.Duration)
	if result.Err != nil {
		log.Printf("Ошибка: %v", result.Err)
	}
}

// testPage строит страницу с номером: шахматные блоки со сдвигом,
// чтобы страницы отличались друг от друга
func testPage(width, height, index int) *t4.Page {
	page := t4.NewPage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			block := (x/32 + y/8 + index) % 2
			page.SetPixel(x, y, block == 1)
		}
	}
	return page
}
