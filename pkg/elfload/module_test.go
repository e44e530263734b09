package elfload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/internal/fixture"
	"github.com/viua-vm/viua/pkg/elfload"
)

func TestParseWellFormedModule(t *testing.T) {
	data := fixture.NewELFBuilder().
		Text([]uint64{0x01, 0x02, 0x03, 0x04}).
		Rodata([]byte("hello\x00world\x00")).
		Function("main", 0).
		Function("helper", 16).
		Label("loop_top", 8).
		Build("main")

	mod, err := elfload.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, []uint64{0x01, 0x02, 0x03, 0x04}, mod.Text)
	assert.Equal(t, []byte("hello\x00world\x00"), mod.Rodata)

	entry, ok := mod.EntryPoint()
	require.True(t, ok)
	assert.Equal(t, uint64(0), entry)

	off, ok := mod.FunctionAt("helper")
	require.True(t, ok)
	assert.Equal(t, uint64(16), off)

	_, ok = mod.FunctionAt("nope")
	assert.False(t, ok)

	assert.Equal(t, "loop_top", mod.LabelsTable()[8])
}

func TestParseRejectsBadMagic(t *testing.T) {
	data := fixture.NewELFBuilder().Text([]uint64{1}).Build("")
	// Corrupt the .viua.magic contents (known fixed layout: right after the
	// 64-byte header and the 5-byte .interp section; this overwrites the
	// magic's second byte).
	data[64+6] = 0xFF
	_, err := elfload.Parse(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, elfload.ErrBadMagic)
}

func TestParseRejectsBadIdent(t *testing.T) {
	data := fixture.NewELFBuilder().Text([]uint64{1}).Build("")
	data[0] = 0x00
	_, err := elfload.Parse(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, elfload.ErrBadIdent)
}

func TestParseRejectsTruncated(t *testing.T) {
	_, err := elfload.Parse([]byte{0x7F, 'E', 'L', 'F'})
	require.Error(t, err)
	assert.ErrorIs(t, err, elfload.ErrTruncated)
}

func TestParseNoEntryPoint(t *testing.T) {
	data := fixture.NewELFBuilder().Text([]uint64{1, 2}).Function("f", 0).Build("")
	mod, err := elfload.Parse(data)
	require.NoError(t, err)
	_, ok := mod.EntryPoint()
	assert.False(t, ok)
}
