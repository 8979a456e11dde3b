// Package t30 реализует управление факсимильным сеансом по ITU-T T.30:
// фазы A–E, согласование возможностей DIS/DCS, постраничные
// подтверждения и режим коррекции ошибок (ECM) с выборочной повторной
// передачей строк.
//
// Сессия работает поверх модемной абстракции Modem: физический модем,
// виртуальная петля для тестов или шлюз T.38 — для машины состояний
// они неразличимы. Все события сериализуются в одну горутину, поэтому
// обработчики не конкурируют между собой.
//
// Типичный сценарий:
//
//	caller, answerer := NewLoopbackPair()
//	rx := NewSession(answerer, &Config{Role: RoleAnswerer, Capabilities: DefaultCapabilities()})
//	tx := NewSession(caller, &Config{Role: RoleCaller, Document: pages})
//	tx.Start()
//	rx.Start()
//	result, err := tx.Wait(ctx)
//
// Таймеры T0–T5 и бюджеты повторов задаются таблицей пакета timing и
// могут быть ужаты в тестах.
package t30
