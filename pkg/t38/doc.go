// Package t38 реализует транспорт факсимильной сессии по IP согласно
// ITU-T T.38: пакеты IFP, инкапсуляцию UDPTL с избыточностью и шлюз,
// предъявляющий машине состояний T.30 обычный модемный контракт.
//
// Шлюз прозрачен для протокола: кадры V.21, высокоскоростной поток
// страницы и тональные индикаторы переносятся пакетами IFP с
// монотонным номером, дубликаты отбрасываются, перестановки
// выправляются ограниченным окном, потери восполняются избыточными
// копиями UDPTL.
//
// Транспортных трактов несколько: UDP (классический UDPTL), TCP с
// префиксом длины, DTLS для шифрованных магистралей и RTP для
// операторских сетей, ожидающих T.38 в RTP потоке.
package t38
