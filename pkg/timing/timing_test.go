package timing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPolicyTableDefaults проверяет табличные значения T.30
func TestPolicyTableDefaults(t *testing.T) {
	c := NewController(DefaultPolicyTable())

	assert.Equal(t, 35*time.Second, c.Duration(ClassT1))
	assert.Equal(t, 6*time.Second, c.Duration(ClassT2))
	assert.Equal(t, 3*time.Second, c.Duration(ClassT4))
	assert.Equal(t, 60*time.Second, c.Duration(ClassT5))
	assert.Equal(t, 3, c.MaxRetries(ClassT4))
	assert.Equal(t, 0, c.MaxRetries(ClassT1))
}

// TestArmFires проверяет срабатывание таймера
func TestArmFires(t *testing.T) {
	c := NewController(PolicyTable{ClassT4: {Duration: 5 * time.Millisecond}})

	fired := make(chan *Handle, 1)
	h := c.Arm(ClassT4, func(fh *Handle) { fired <- fh })
	require.NotNil(t, h)
	assert.Equal(t, ClassT4, h.Class())

	select {
	case fh := <-fired:
		assert.Equal(t, ClassT4, fh.Class())
		// колбэк получает тот же handle, что вернул Arm: проверка на
		// устаревание у владельца сравнивает именно указатели
		assert.Same(t, h, fh)
	case <-time.After(time.Second):
		t.Fatal("таймер не сработал")
	}
	assert.False(t, h.Active())
	assert.False(t, h.Cancel(), "отмена после срабатывания должна вернуть false")
}

// TestCancelSuppressesCallback проверяет, что отмененный таймер молчит
func TestCancelSuppressesCallback(t *testing.T) {
	c := NewController(PolicyTable{ClassT2: {Duration: 20 * time.Millisecond}})

	var fired atomic.Bool
	h := c.Arm(ClassT2, func(*Handle) { fired.Store(true) })
	require.True(t, h.Cancel())
	assert.False(t, h.Active())

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load(), "отмененный таймер не должен сработать")
}

// TestArmWithDuration проверяет таймер с явной длительностью
func TestArmWithDuration(t *testing.T) {
	c := NewController(nil)

	fired := make(chan struct{})
	c.ArmWithDuration(Class("GAP"), 5*time.Millisecond, func(*Handle) { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("таймер с явной длительностью не сработал")
	}
}

// TestRetryBudget проверяет учет повторов
func TestRetryBudget(t *testing.T) {
	b := NewRetryBudget(3)

	assert.True(t, b.Next())
	assert.True(t, b.Next())
	assert.True(t, b.Next())
	assert.False(t, b.Next(), "четвертая попытка сверх предела")
	assert.Equal(t, 3, b.Used())

	b.Reset()
	assert.Equal(t, 0, b.Used())
	assert.True(t, b.Next())
}

// TestSharedController проверяет независимость таймеров одного контроллера
func TestSharedController(t *testing.T) {
	c := NewController(PolicyTable{ClassT2: {Duration: 10 * time.Millisecond}})

	var a, b atomic.Int32
	ha := c.Arm(ClassT2, func(*Handle) { a.Add(1) })
	c.Arm(ClassT2, func(*Handle) { b.Add(1) })
	ha.Cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), a.Load())
	assert.Equal(t, int32(1), b.Load())
}
