// Package t4 реализует кодек страниц факсимильного изображения по
// ITU-T T.4 и T.6: одномерное кодирование MH (modified Huffman),
// двумерное MR (modified READ) и MMR (modified modified READ).
//
// Пакет предоставляет машине состояний T.30 узкий контракт:
// закодировать растр страницы в битовый поток и восстановить растр из
// потока. Нарушение кодовой таблицы при декодировании не превращается
// молча в мусор — декодер сообщает номер испорченной строки, что
// позволяет уровню ECM запросить выборочную повторную передачу.
//
// Все функции чистые и реентерабельные, привязки к сессии нет.
package t4
