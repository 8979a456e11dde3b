package t30

import (
	"context"

	"github.com/looplab/fsm"
)

// Phase фаза факсимильного сеанса по T.30.
type Phase int

const (
	// PhaseIdle сессия создана, но не запущена
	PhaseIdle Phase = iota

	// PhaseA установление вызова и обмен тональными сигналами
	PhaseA

	// PhaseB идентификация и согласование параметров
	PhaseB

	// PhaseC тренировка модема и передача изображения
	PhaseC

	// PhaseD постраничное подтверждение
	PhaseD

	// PhaseE разрыв соединения
	PhaseE

	// PhaseTerminated сеанс завершен
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseA:
		return "phase_a"
	case PhaseB:
		return "phase_b"
	case PhaseC:
		return "phase_c"
	case PhaseD:
		return "phase_d"
	case PhaseE:
		return "phase_e"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// События фазового автомата.
const (
	phaseEventStart       = "start"
	phaseEventNegotiate   = "negotiate"
	phaseEventTrain       = "train"
	phaseEventRetrain     = "retrain"
	phaseEventPageDone    = "page_done"
	phaseEventNextPage    = "next_page"
	phaseEventRenegotiate = "renegotiate"
	phaseEventDisconnect  = "disconnect"
	phaseEventTerminate   = "terminate"
)

// newPhaseMachine строит фазовый автомат T.30.
//
// Таблица переходов полная для штатных сценариев: запрещенный переход
// означает протокольную ошибку и обрабатывается вызывающим кодом как
// неожиданное событие, а не паникой автомата.
func newPhaseMachine(onTransition func(from, to Phase)) *fsm.FSM {
	return fsm.NewFSM(
		PhaseIdle.String(),
		fsm.Events{
			{Name: phaseEventStart, Src: []string{PhaseIdle.String()}, Dst: PhaseA.String()},
			{Name: phaseEventNegotiate, Src: []string{PhaseA.String()}, Dst: PhaseB.String()},
			{Name: phaseEventTrain, Src: []string{PhaseB.String()}, Dst: PhaseC.String()},
			{Name: phaseEventRetrain, Src: []string{PhaseB.String(), PhaseC.String()}, Dst: PhaseB.String()},
			{Name: phaseEventPageDone, Src: []string{PhaseC.String()}, Dst: PhaseD.String()},
			{Name: phaseEventNextPage, Src: []string{PhaseD.String()}, Dst: PhaseC.String()},
			{Name: phaseEventRenegotiate, Src: []string{PhaseD.String()}, Dst: PhaseB.String()},
			{Name: phaseEventDisconnect, Src: []string{
				PhaseA.String(), PhaseB.String(), PhaseC.String(), PhaseD.String(),
			}, Dst: PhaseE.String()},
			{Name: phaseEventTerminate, Src: []string{
				PhaseIdle.String(), PhaseA.String(), PhaseB.String(),
				PhaseC.String(), PhaseD.String(), PhaseE.String(),
			}, Dst: PhaseTerminated.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if onTransition != nil && e.Src != e.Dst {
					onTransition(phaseFromString(e.Src), phaseFromString(e.Dst))
				}
			},
		},
	)
}

// phaseFromString преобразует состояние автомата в Phase.
func phaseFromString(state string) Phase {
	switch state {
	case "idle":
		return PhaseIdle
	case "phase_a":
		return PhaseA
	case "phase_b":
		return PhaseB
	case "phase_c":
		return PhaseC
	case "phase_d":
		return PhaseD
	case "phase_e":
		return PhaseE
	case "terminated":
		return PhaseTerminated
	default:
		return PhaseIdle
	}
}
