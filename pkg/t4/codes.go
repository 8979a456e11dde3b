package t4

// Кодовые таблицы ITU-T T.4 §4.1 (терминальные коды и коды продолжения
// для белых и черных серий) и §4.2 (режимные коды двумерного кодирования).
// Значения взяты из опубликованной рекомендации; они несущие для
// совместимости и не подлежат изменению.

// code кодовое слово: значение в младших битах, длина в битах
type code struct {
	val uint16
	len int
}

// eolCode код конца строки 000000000001
var eolCode = code{0x001, 12}

// терминальные коды белых серий 0..63
var whiteTerm = [64]code{
	{0x35, 8}, {0x07, 6}, {0x07, 4}, {0x08, 4},
	{0x0B, 4}, {0x0C, 4}, {0x0E, 4}, {0x0F, 4},
	{0x13, 5}, {0x14, 5}, {0x07, 5}, {0x08, 5},
	{0x08, 6}, {0x03, 6}, {0x34, 6}, {0x35, 6},
	{0x2A, 6}, {0x2B, 6}, {0x27, 7}, {0x0C, 7},
	{0x08, 7}, {0x17, 7}, {0x03, 7}, {0x04, 7},
	{0x28, 7}, {0x2B, 7}, {0x13, 7}, {0x24, 7},
	{0x18, 7}, {0x02, 8}, {0x03, 8}, {0x1A, 8},
	{0x1B, 8}, {0x12, 8}, {0x13, 8}, {0x14, 8},
	{0x15, 8}, {0x16, 8}, {0x17, 8}, {0x28, 8},
	{0x29, 8}, {0x2A, 8}, {0x2B, 8}, {0x2C, 8},
	{0x2D, 8}, {0x04, 8}, {0x05, 8}, {0x0A, 8},
	{0x0B, 8}, {0x52, 8}, {0x53, 8}, {0x54, 8},
	{0x55, 8}, {0x24, 8}, {0x25, 8}, {0x58, 8},
	{0x59, 8}, {0x5A, 8}, {0x5B, 8}, {0x4A, 8},
	{0x4B, 8}, {0x32, 8}, {0x33, 8}, {0x34, 8},
}

// коды продолжения белых серий 64..1728 с шагом 64
var whiteMakeup = [27]code{
	{0x1B, 5},  // 64
	{0x12, 5},  // 128
	{0x17, 6},  // 192
	{0x37, 7},  // 256
	{0x36, 8},  // 320
	{0x37, 8},  // 384
	{0x64, 8},  // 448
	{0x65, 8},  // 512
	{0x68, 8},  // 576
	{0x67, 8},  // 640
	{0xCC, 9},  // 704
	{0xCD, 9},  // 768
	{0xD2, 9},  // 832
	{0xD3, 9},  // 896
	{0xD4, 9},  // 960
	{0xD5, 9},  // 1024
	{0xD6, 9},  // 1088
	{0xD7, 9},  // 1152
	{0xD8, 9},  // 1216
	{0xD9, 9},  // 1280
	{0xDA, 9},  // 1344
	{0xDB, 9},  // 1408
	{0x98, 9},  // 1472
	{0x99, 9},  // 1536
	{0x9A, 9},  // 1600
	{0x18, 6},  // 1664
	{0x9B, 9},  // 1728
}

// терминальные коды черных серий 0..63
var blackTerm = [64]code{
	{0x37, 10}, {0x02, 3}, {0x03, 2}, {0x02, 2},
	{0x03, 3}, {0x03, 4}, {0x02, 4}, {0x03, 5},
	{0x05, 6}, {0x04, 6}, {0x04, 7}, {0x05, 7},
	{0x07, 7}, {0x04, 8}, {0x07, 8}, {0x18, 9},
	{0x17, 10}, {0x18, 10}, {0x08, 10}, {0x67, 11},
	{0x68, 11}, {0x6C, 11}, {0x37, 11}, {0x28, 11},
	{0x17, 11}, {0x18, 11}, {0xCA, 12}, {0xCB, 12},
	{0xCC, 12}, {0xCD, 12}, {0x68, 12}, {0x69, 12},
	{0x6A, 12}, {0x6B, 12}, {0xD2, 12}, {0xD3, 12},
	{0xD4, 12}, {0xD5, 12}, {0xD6, 12}, {0xD7, 12},
	{0x6C, 12}, {0x6D, 12}, {0xDA, 12}, {0xDB, 12},
	{0x54, 12}, {0x55, 12}, {0x56, 12}, {0x57, 12},
	{0x64, 12}, {0x65, 12}, {0x52, 12}, {0x53, 12},
	{0x24, 12}, {0x37, 12}, {0x38, 12}, {0x27, 12},
	{0x28, 12}, {0x58, 12}, {0x59, 12}, {0x2B, 12},
	{0x2C, 12}, {0x5A, 12}, {0x66, 12}, {0x67, 12},
}

// коды продолжения черных серий 64..1728 с шагом 64
var blackMakeup = [27]code{
	{0x0F, 10},  // 64
	{0xC8, 12},  // 128
	{0xC9, 12},  // 192
	{0x5B, 12},  // 256
	{0x33, 12},  // 320
	{0x34, 12},  // 384
	{0x35, 12},  // 448
	{0x6C, 13},  // 512
	{0x6D, 13},  // 576
	{0x4A, 13},  // 640
	{0x4B, 13},  // 704
	{0x4C, 13},  // 768
	{0x4D, 13},  // 832
	{0x72, 13},  // 896
	{0x73, 13},  // 960
	{0x74, 13},  // 1024
	{0x75, 13},  // 1088
	{0x76, 13},  // 1152
	{0x77, 13},  // 1216
	{0x52, 13},  // 1280
	{0x53, 13},  // 1344
	{0x54, 13},  // 1408
	{0x55, 13},  // 1472
	{0x5A, 13},  // 1536
	{0x5B, 13},  // 1600
	{0x64, 13},  // 1664
	{0x65, 13},  // 1728
}

// общие расширенные коды продолжения 1792..2560
var extMakeup = [13]code{
	{0x08, 11}, // 1792
	{0x0C, 11}, // 1856
	{0x0D, 11}, // 1920
	{0x12, 12}, // 1984
	{0x13, 12}, // 2048
	{0x14, 12}, // 2112
	{0x15, 12}, // 2176
	{0x16, 12}, // 2240
	{0x17, 12}, // 2304
	{0x1C, 12}, // 2368
	{0x1D, 12}, // 2432
	{0x1E, 12}, // 2496
	{0x1F, 12}, // 2560
}

// режимные коды двумерного кодирования
var (
	codePass   = code{0x1, 4} // 0001
	codeHoriz  = code{0x1, 3} // 001
	codeV0     = code{0x1, 1} // 1
	codeVR1    = code{0x3, 3} // 011
	codeVR2    = code{0x3, 6} // 000011
	codeVR3    = code{0x3, 7} // 0000011
	codeVL1    = code{0x2, 3} // 010
	codeVL2    = code{0x2, 6} // 000010
	codeVL3    = code{0x2, 7} // 0000010
)

// decodeTable таблица декодирования: ключ — длина<<16|код
type decodeTable map[uint32]int

func key(c code) uint32 { return uint32(c.len)<<16 | uint32(c.val) }

var (
	whiteDecode decodeTable
	blackDecode decodeTable
)

func init() {
	whiteDecode = make(decodeTable, 104)
	blackDecode = make(decodeTable, 104)
	for run, c := range whiteTerm {
		whiteDecode[key(c)] = run
	}
	for i, c := range whiteMakeup {
		whiteDecode[key(c)] = 64 * (i + 1)
	}
	for run, c := range blackTerm {
		blackDecode[key(c)] = run
	}
	for i, c := range blackMakeup {
		blackDecode[key(c)] = 64 * (i + 1)
	}
	for i, c := range extMakeup {
		whiteDecode[key(c)] = 1792 + 64*i
		blackDecode[key(c)] = 1792 + 64*i
	}
}

// runCodes возвращает последовательность кодов для серии длиной run
// указанного цвета; серии длиннее 2560 разбиваются цепочкой кодов
// продолжения
func runCodes(run int, black bool) []code {
	term := &whiteTerm
	makeup := &whiteMakeup
	if black {
		term = &blackTerm
		makeup = &blackMakeup
	}
	var out []code
	for run > 2623 { // 2560 + 63: максимум одной пары makeup+term
		out = append(out, extMakeup[len(extMakeup)-1])
		run -= 2560
	}
	if run >= 1792 {
		i := (run - 1792) / 64
		out = append(out, extMakeup[i])
		run -= 1792 + 64*i
	} else if run >= 64 {
		i := run/64 - 1
		out = append(out, makeup[i])
		run -= 64 * (i + 1)
	}
	out = append(out, term[run])
	return out
}
