package t30

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_fax/pkg/t4"
)

func ecmTestPage(height int) *t4.Page {
	page := t4.NewPage(1728, height)
	for y := 0; y < height; y++ {
		for x := 0; x < page.Width; x++ {
			page.SetPixel(x, y, (x/8+y)%2 == 1)
		}
	}
	return page
}

// TestECMBlockRoundTrip проверяет перенос страницы построчными кадрами
func TestECMBlockRoundTrip(t *testing.T) {
	page := ecmTestPage(12)
	tx := newECMTransmitter(page, 0, FrameEOP)
	assert.Equal(t, 12, tx.rowCount())
	assert.Len(t, tx.allRows(), 12)

	rx := newECMReceiver(page.Width)
	for row, code := range tx.rows {
		rx.acceptRow(row, code)
	}

	bitmap, complete := rx.buildPPR(tx.rowCount())
	assert.True(t, complete, "все строки на месте")
	assert.Empty(t, nonzeroBits(bitmap))

	got, err := rx.assemblePage(tx.rowCount())
	require.NoError(t, err)
	assert.True(t, page.Equal(got))
}

// TestECMPartialPage проверяет карту PPR при недостающих и битых строках
func TestECMPartialPage(t *testing.T) {
	page := ecmTestPage(10)
	tx := newECMTransmitter(page, 0, FrameMPS)

	rx := newECMReceiver(page.Width)
	for row, code := range tx.rows {
		if row == 3 {
			continue // потеряна
		}
		if row == 7 {
			bad := append([]byte(nil), code...)
			bad[len(bad)/2] = ^bad[len(bad)/2]
			rx.acceptRow(row, bad)
			continue
		}
		rx.acceptRow(row, code)
	}

	bitmap, complete := rx.buildPPR(tx.rowCount())
	assert.False(t, complete)
	missing := nonzeroBits(bitmap)
	assert.Contains(t, missing, 3, "потерянная строка в карте")
	assert.Contains(t, missing, 7, "испорченная строка в карте")

	// повторная передача закрывает карту
	for _, row := range tx.rowsFromPPR(bitmap) {
		rx.acceptRow(row, tx.rows[row])
	}
	_, complete = rx.buildPPR(tx.rowCount())
	assert.True(t, complete)

	got, err := rx.assemblePage(tx.rowCount())
	require.NoError(t, err)
	assert.True(t, page.Equal(got))
}

// TestECMDuplicateRows проверяет учет повторно принятых строк
func TestECMDuplicateRows(t *testing.T) {
	page := ecmTestPage(4)
	tx := newECMTransmitter(page, 0, FrameEOP)

	rx := newECMReceiver(page.Width)
	rx.acceptRow(0, tx.rows[0])
	rx.acceptRow(0, tx.rows[0])
	assert.Equal(t, 1, rx.retransmits, "дубликат считается повтором")
}

// nonzeroBits возвращает номера установленных битов карты PPR
func nonzeroBits(bitmap []byte) []int {
	var out []int
	for i := 0; i < len(bitmap)*8; i++ {
		if bitmap[i/8]&(1<<(i%8)) != 0 {
			out = append(out, i)
		}
	}
	return out
}
