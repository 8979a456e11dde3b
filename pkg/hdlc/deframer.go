package hdlc

// Deframer потоковый разборщик HDLC кадров.
// Принимает произвольно нарезанный битовый поток (октеты, младший бит
// первым), находит ограниченные флагами кадры, удаляет вставленные нулевые
// биты и проверяет FCS. Ошибка CRC или abort-последовательность завершает
// текущий кадр как невалидный, не останавливая разбор: дефреймер
// пересинхронизируется на следующем флаге.
//
// Дефреймер не потокобезопасен: один экземпляр — один канал приема.
type Deframer struct {
	onFrame func(Frame)

	// patDet последние восемь сырых бит, свежий в старшем разряде
	patDet byte
	// onesRun количество подряд идущих единиц в сыром потоке
	onesRun int

	inFrame bool
	oacc    byte
	olen    int
	buf     []byte

	// счетчики для диагностики
	framesOK  uint64
	framesBad uint64
}

// NewDeframer создает дефреймер; onFrame вызывается синхронно на каждый
// извлеченный кадр, валидный или нет
func NewDeframer(onFrame func(Frame)) *Deframer {
	return &Deframer{
		onFrame: onFrame,
		buf:     make([]byte, 0, 64),
	}
}

// Feed скармливает дефреймеру очередную порцию битового потока.
// Границы порций могут проходить где угодно, в том числе внутри октета кадра.
func (d *Deframer) Feed(data []byte) {
	for _, octet := range data {
		for i := 0; i < 8; i++ {
			d.putBit((octet >> i) & 1)
		}
	}
}

// Stats возвращает количество принятых валидных и невалидных кадров
func (d *Deframer) Stats() (ok, bad uint64) {
	return d.framesOK, d.framesBad
}

func (d *Deframer) putBit(bit byte) {
	d.patDet = d.patDet>>1 | bit<<7
	prevOnes := d.onesRun
	if bit == 1 {
		d.onesRun++
	} else {
		d.onesRun = 0
	}

	// Флаг завершает текущий кадр и сразу открывает следующий
	if d.patDet == Flag {
		d.endFrame(false)
		d.startFrame()
		return
	}

	// Семь и более единиц подряд — abort; кадр завершается невалидным,
	// дальше ждем следующий флаг
	if bit == 1 && d.onesRun >= 7 {
		if d.inFrame {
			d.endFrame(true)
			d.inFrame = false
		}
		return
	}

	if !d.inFrame {
		return
	}

	// Вставленный после пяти единиц ноль отбрасывается
	if bit == 0 && prevOnes == 5 {
		return
	}

	d.oacc |= bit << d.olen
	d.olen++
	if d.olen == 8 {
		if len(d.buf) >= MaxFrameLen {
			// переполнение: кадр мусорный, пересинхронизация по флагу
			d.framesBad++
			d.inFrame = false
		} else {
			d.buf = append(d.buf, d.oacc)
		}
		d.oacc = 0
		d.olen = 0
	}
}

// endFrame завершает накопленный кадр. Неполный последний октет
// отбрасывается: это биты начавшегося флага, кадры всегда выровнены
// по октетам.
func (d *Deframer) endFrame(aborted bool) {
	if !d.inFrame || len(d.buf) < 2 {
		return
	}
	fr := Frame{
		Payload: append([]byte(nil), d.buf[:len(d.buf)-2]...),
		Aborted: aborted,
	}
	if !aborted {
		fr.FCSOK = checkFCS(d.buf)
	}
	if fr.FCSOK {
		d.framesOK++
	} else {
		d.framesBad++
	}
	if d.onFrame != nil {
		d.onFrame(fr)
	}
}

func (d *Deframer) startFrame() {
	d.inFrame = true
	d.buf = d.buf[:0]
	d.oacc = 0
	d.olen = 0
}

// Deframe разбирает готовый битовый поток целиком и возвращает все
// найденные кадры. Удобная обертка над Deframer для тестов и пакетной
// обработки.
func Deframe(stream []byte) []Frame {
	var frames []Frame
	d := NewDeframer(func(f Frame) {
		frames = append(frames, f)
	})
	d.Feed(stream)
	return frames
}
