// internal/ble/loopback_test.go
package ble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainEvent(t *testing.T, lb *Loopback) Event {
	t.Helper()
	select {
	case e := <-lb.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func TestLoopback_Advertising(t *testing.T) {
	lb := NewLoopback("badge")
	assert.False(t, lb.Advertising())
	require.NoError(t, lb.StartAdvertising())
	assert.True(t, lb.Advertising())
	require.NoError(t, lb.StopAdvertising())
	assert.False(t, lb.Advertising())
}

func TestLoopback_ConnectLifecycleEvents(t *testing.T) {
	lb := NewLoopback("badge")
	conn := lb.Connect()
	require.NotZero(t, conn)

	e := drainEvent(t, lb)
	assert.Equal(t, EvtConnected, e.Type)
	assert.Equal(t, conn, e.Conn)
	assert.Equal(t, DefaultMTU, e.MTU)

	lb.ExchangeMTU(185)
	e = drainEvent(t, lb)
	assert.Equal(t, EvtMTUChanged, e.Type)
	assert.Equal(t, 185, e.MTU)
	assert.Equal(t, 185, lb.MTU(conn))

	lb.Subscribe(ChrEgressData, true)
	e = drainEvent(t, lb)
	assert.Equal(t, EvtSubscription, e.Type)
	assert.Equal(t, ChrEgressData, e.Attr)
	assert.True(t, e.Enabled)

	lb.Disconnect()
	e = drainEvent(t, lb)
	assert.Equal(t, EvtDisconnected, e.Type)
	assert.False(t, lb.Connected())
}

func TestLoopback_NotifyRequiresConnection(t *testing.T) {
	lb := NewLoopback("badge")
	err := lb.Notify(1, ChrEgressData, []byte{1})
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestLoopback_NotifyRecordsAndAcks(t *testing.T) {
	lb := NewLoopback("badge")
	conn := lb.Connect()
	drainEvent(t, lb)

	require.NoError(t, lb.Notify(conn, ChrEgressData, []byte{0xAB}))
	e := drainEvent(t, lb)
	assert.Equal(t, EvtNotifySent, e.Type)
	assert.Equal(t, ChrEgressData, e.Attr)

	got := lb.Notifications(ChrEgressData)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0xAB}, got[0])
}

func TestLoopback_RecordControlWriteRejected(t *testing.T) {
	lb := NewLoopback("badge")
	lb.Connect()
	// Remote capture start is disabled by policy.
	err := lb.Write(ChrRecordControl, []byte{1})
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestLoopback_ReadThroughHandler(t *testing.T) {
	lb := NewLoopback("badge")
	lb.SetReadHandler(func(conn ConnHandle, attr AttrHandle) ([]byte, error) {
		return []byte{byte(attr)}, nil
	})
	lb.Connect()
	attr := ChrFileCount
	got, err := lb.Read(attr)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(attr)}, got)
}

func TestLoopback_ManualAck(t *testing.T) {
	lb := NewLoopback("badge")
	conn := lb.Connect()
	drainEvent(t, lb)
	lb.SetManualAck(true)

	require.NoError(t, lb.Notify(conn, ChrEgressData, []byte{1}))
	select {
	case e := <-lb.Events():
		t.Fatalf("unexpected event %v before ack", e.Type)
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, lb.AckOne())
	e := drainEvent(t, lb)
	assert.Equal(t, EvtNotifySent, e.Type)
	assert.False(t, lb.AckOne(), "no pending acks left")
}
