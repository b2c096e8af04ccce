package wb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_RecordAndGet(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get(Path("dev", "t"))
	assert.False(t, ok)

	v := r.Record(Path("dev", "t"), "21.5")
	assert.True(t, v.Equal(FloatValue(21.5)))

	got, ok := r.Get(Path("dev", "t"))
	assert.True(t, ok)
	assert.True(t, got.Equal(FloatValue(21.5)))

	r.Record(Path("dev", "t"), "23")
	got, _ = r.Get(Path("dev", "t"))
	assert.True(t, got.Equal(IntValue(23)), "last write wins")
}

func TestRegistry_EmptyPayloadForgets(t *testing.T) {
	r := NewRegistry()
	r.Record(Path("dev", "t"), "1")

	v := r.Record(Path("dev", "t"), "")
	assert.False(t, v.IsKnown())

	_, ok := r.Get(Path("dev", "t"))
	assert.False(t, ok)
}

func TestRegistry_StoreUnknownForgets(t *testing.T) {
	r := NewRegistry()
	r.Store(Path("dev", "t"), IntValue(1))
	r.Store(Path("dev", "t"), Value{})
	assert.Empty(t, r.values)
}

func TestRegistry_ListAllIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Store(Path("a", "x"), IntValue(1))
	r.Store(Path("b", "y"), TextValue("on"))

	snap := r.ListAll()
	assert.Len(t, snap, 2)

	snap[Path("c", "z")] = IntValue(3)
	delete(snap, Path("a", "x"))
	assert.Len(t, r.values, 2)
	_, ok := r.Get(Path("a", "x"))
	assert.True(t, ok)
}

func TestRegistry_ForgetDevice(t *testing.T) {
	r := NewRegistry()
	r.Store(Path("dev", "a"), IntValue(1))
	r.Store(Path("dev", "b"), IntValue(2))
	r.Store(Path("other", "a"), IntValue(3))

	removed := r.ForgetDevice("dev")
	assert.ElementsMatch(t, []ControlPath{Path("dev", "a"), Path("dev", "b")}, removed)
	assert.Len(t, r.values, 1)
	_, ok := r.Get(Path("other", "a"))
	assert.True(t, ok)

	assert.Empty(t, r.ForgetDevice("missing"))
}
