package connections

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	received  []interface{}
	failNext  bool
	panicNext bool
	destroyed int
}

func (f *fakeEngine) Notify(payload interface{}) error {
	if f.panicNext {
		panic("engine gone")
	}
	if f.failNext {
		return errors.New("broken pipe")
	}
	f.received = append(f.received, payload)
	return nil
}

func (f *fakeEngine) Destroy() { f.destroyed++ }

func TestAddConnectionAllocatesUniqueIDs(t *testing.T) {
	r := NewRegistry()
	a := r.AddConnection("https://dapp.example", &fakeEngine{})
	b := r.AddConnection("https://dapp.example", &fakeEngine{})

	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.CountConnections("https://dapp.example"))
}

func TestInternalOriginIsNeverTracked(t *testing.T) {
	r := NewRegistry()
	id := r.AddConnection(OriginInternal, &fakeEngine{})
	assert.Empty(t, id)
	assert.Equal(t, 0, r.CountConnections(OriginInternal))
	assert.Empty(t, r.Origins())
}

func TestRemoveConnectionIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.AddConnection("https://dapp.example", &fakeEngine{})

	r.RemoveConnection("https://dapp.example", id)
	assert.Equal(t, 0, r.CountConnections("https://dapp.example"))
	assert.Empty(t, r.Origins())

	// second removal and unknown origins are silent no-ops
	r.RemoveConnection("https://dapp.example", id)
	r.RemoveConnection("https://never-seen.example", "conn-1")
}

func TestRemoveAllConnectionsDestroysEngines(t *testing.T) {
	r := NewRegistry()
	first := &fakeEngine{}
	second := &fakeEngine{}
	other := &fakeEngine{}
	r.AddConnection("https://dapp.example", first)
	r.AddConnection("https://dapp.example", second)
	r.AddConnection("https://other.example", other)

	r.RemoveAllConnections("https://dapp.example")

	assert.Equal(t, 1, first.destroyed)
	assert.Equal(t, 1, second.destroyed)
	assert.Equal(t, 0, other.destroyed)
	assert.Equal(t, 0, r.CountConnections("https://dapp.example"))
	assert.Equal(t, 1, r.CountConnections("https://other.example"))
}

func TestNotifyConnectionsTargetsSingleOrigin(t *testing.T) {
	r := NewRegistry()
	dapp := &fakeEngine{}
	other := &fakeEngine{}
	r.AddConnection("https://dapp.example", dapp)
	r.AddConnection("https://other.example", other)

	r.NotifyConnections("https://dapp.example", "payload")
	r.NotifyConnections("https://unknown.example", "payload") // no-op

	assert.Len(t, dapp.received, 1)
	assert.Empty(t, other.received)
}

func TestNotifyAllConnectionsWithFactory(t *testing.T) {
	r := NewRegistry()
	dappA := &fakeEngine{}
	dappB := &fakeEngine{}
	other := &fakeEngine{}
	r.AddConnection("https://dapp.example", dappA)
	r.AddConnection("https://dapp.example", dappB)
	r.AddConnection("https://other.example", other)

	r.NotifyAllConnections(PayloadFactory(func(origin string) interface{} {
		if origin == "https://dapp.example" {
			return "0x1"
		}
		return "0x89"
	}))

	require.Len(t, dappA.received, 1)
	require.Len(t, dappB.received, 1)
	require.Len(t, other.received, 1)
	assert.Equal(t, "0x1", dappA.received[0])
	assert.Equal(t, "0x1", dappB.received[0])
	assert.Equal(t, "0x89", other.received[0])
}

func TestBrokenEngineDoesNotStopFanOut(t *testing.T) {
	r := NewRegistry()
	broken := &fakeEngine{failNext: true}
	panicking := &fakeEngine{panicNext: true}
	healthy := &fakeEngine{}
	r.AddConnection("https://dapp.example", broken)
	r.AddConnection("https://dapp.example", panicking)
	r.AddConnection("https://dapp.example", healthy)

	r.NotifyConnections("https://dapp.example", "payload")

	assert.Len(t, healthy.received, 1)
}
