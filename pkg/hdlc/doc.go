// Package hdlc реализует битовый канальный уровень факсимильной сессии:
// упаковку октетов в HDLC кадры (флаги 0x7E, bit stuffing, FCS-16)
// и обратное извлечение кадров из битового потока.
//
// Пакет не знает ничего о протоколе T.30: адресный и управляющий октеты
// являются частью полезной нагрузки и интерпретируются верхним уровнем.
// Все преобразования чистые и реентерабельные, состояние есть только
// у потокового дефреймера.
//
// Порядок бит на проводе — младший бит октета первым (соглашение V.21).
package hdlc
