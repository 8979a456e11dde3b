// Package timing реализует общий контроллер таймеров и повторов для
// протокольных уровней T.30 и T.38. Политика табличная: классу таймера
// соответствует длительность и предел повторов; таблица неизменяема после
// создания контроллера, поэтому один контроллер безопасно разделяется
// любым количеством одновременных сессий.
package timing

import (
	"sync/atomic"
	"time"
)

// Class класс таймера согласно ITU-T T.30 (таблица допусков §5.3)
type Class string

const (
	// ClassT0 ожидание ответа вызываемой стороны после набора
	ClassT0 Class = "T0"
	// ClassT1 установление сессии: обнаружение партнера по DIS/DCS
	ClassT1 Class = "T1"
	// ClassT2 межкомандный интервал на приемной стороне
	ClassT2 Class = "T2"
	// ClassT3 ожидание действий оператора
	ClassT3 Class = "T3"
	// ClassT4 ожидание ответа на переданную команду
	ClassT4 Class = "T4"
	// ClassT5 предел ожидания освобождения приемника в режиме ECM
	ClassT5 Class = "T5"
)

// Policy длительность и предел повторов одного класса таймера
type Policy struct {
	Duration   time.Duration
	MaxRetries int
}

// PolicyTable таблица политик по классам
type PolicyTable map[Class]Policy

// DefaultPolicyTable возвращает таблицу с константами ITU-T T.30.
// Значения взяты из опубликованной рекомендации: T1 35с, T2 6с, T3 10с,
// T4 3с, T5 60с; стандартный предел повторов команды — три попытки.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		ClassT0: {Duration: 60 * time.Second, MaxRetries: 0},
		ClassT1: {Duration: 35 * time.Second, MaxRetries: 0},
		ClassT2: {Duration: 6 * time.Second, MaxRetries: 3},
		ClassT3: {Duration: 10 * time.Second, MaxRetries: 0},
		ClassT4: {Duration: 3 * time.Second, MaxRetries: 3},
		ClassT5: {Duration: 60 * time.Second, MaxRetries: 0},
	}
}

// состояния handle для атомарного разрешения гонки Cancel/expire
const (
	handleArmed int32 = iota
	handleFired
	handleCanceled
)

// Handle взведенный таймер. Истечение и отмена взаимоисключающие:
// колбэк отмененного или уже сработавшего таймера никогда не будет
// доставлен, устаревший handle безопасно отменять повторно.
type Handle struct {
	class Class
	timer *time.Timer
	state int32
	fn    func(*Handle)
}

// Class возвращает класс таймера
func (h *Handle) Class() Class { return h.class }

// Cancel синхронно отменяет таймер. Возвращает true, если таймер был
// отменен до срабатывания.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if !atomic.CompareAndSwapInt32(&h.state, handleArmed, handleCanceled) {
		return false
	}
	h.timer.Stop()
	return true
}

// Active сообщает, взведен ли еще таймер
func (h *Handle) Active() bool {
	return h != nil && atomic.LoadInt32(&h.state) == handleArmed
}

// Controller раздает таймеры по табличной политике.
// Потокобезопасен; таблица копируется при создании и далее только читается.
type Controller struct {
	policy PolicyTable
}

// NewController создает контроллер. При nil-таблице используется
// DefaultPolicyTable.
func NewController(policy PolicyTable) *Controller {
	if policy == nil {
		policy = DefaultPolicyTable()
	}
	// копия защищает от мутации таблицы снаружи
	own := make(PolicyTable, len(policy))
	for k, v := range policy {
		own[k] = v
	}
	return &Controller{policy: own}
}

// Duration возвращает длительность класса; ноль для неизвестного класса
func (c *Controller) Duration(class Class) time.Duration {
	return c.policy[class].Duration
}

// MaxRetries возвращает предел повторов класса
func (c *Controller) MaxRetries(class Class) int {
	return c.policy[class].MaxRetries
}

// Arm взводит таймер класса class; по истечении fn вызывается ровно
// один раз со сработавшим handle. Handle передается в колбэк самим
// контроллером: владелец получает его до того, как таймер способен
// сработать, и сравнение на устаревание не требует от владельца
// публиковать значение из Arm навстречу горутине таймера.
func (c *Controller) Arm(class Class, fn func(*Handle)) *Handle {
	return c.ArmWithDuration(class, c.Duration(class), fn)
}

// ArmWithDuration взводит таймер класса с нестандартной длительностью
// (используется шлюзом T.38 для пересмотренных под IP-тракт интервалов)
func (c *Controller) ArmWithDuration(class Class, d time.Duration, fn func(*Handle)) *Handle {
	if d <= 0 {
		return nil
	}
	h := &Handle{class: class, fn: fn}
	h.timer = time.AfterFunc(d, func() {
		if !atomic.CompareAndSwapInt32(&h.state, handleArmed, handleFired) {
			// отменен конкурентно — событие не доставляется
			return
		}
		if h.fn != nil {
			h.fn(h)
		}
	})
	return h
}

// RetryBudget счетчик ограниченных повторов одной команды.
// Не потокобезопасен: принадлежит машине состояний своей сессии.
type RetryBudget struct {
	limit int
	used  int
}

// NewRetryBudget создает счетчик с пределом limit
func NewRetryBudget(limit int) *RetryBudget {
	return &RetryBudget{limit: limit}
}

// Next учитывает попытку; false — предел исчерпан
func (b *RetryBudget) Next() bool {
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Used возвращает число израсходованных попыток
func (b *RetryBudget) Used() int { return b.used }

// Reset обнуляет счетчик (новая команда — новый бюджет)
func (b *RetryBudget) Reset() { b.used = 0 }
