package store

import (
	"path/filepath"
	"testing"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "gamelink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddressesRoundTrip(t *testing.T) {
	s := openTemp(t)

	bt := []addrbook.Entry{
		{Addr: "AA:BB:CC:DD:EE:FF", Name: "Pixel"},
		{Addr: "11:22:33:44:55:66", Name: "Tablet"},
	}
	require.NoError(t, s.SaveAddresses("bt", bt))
	require.NoError(t, s.SaveAddresses("sms", []addrbook.Entry{{Addr: "+15550001"}}))

	got, err := s.LoadAddresses("bt")
	require.NoError(t, err)
	assert.Equal(t, []addrbook.Entry{bt[1], bt[0]}, got)

	// Saving replaces the whole table for that transport only.
	require.NoError(t, s.SaveAddresses("bt", bt[:1]))
	got, err = s.LoadAddresses("bt")
	require.NoError(t, err)
	assert.Equal(t, bt[:1], got)

	sms, err := s.LoadAddresses("sms")
	require.NoError(t, err)
	assert.Len(t, sms, 1)
}

func TestCounters(t *testing.T) {
	s := openTemp(t)

	v, err := s.Counter("sms.msgid")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, s.SetCounter("sms.msgid", 41))
	require.NoError(t, s.SetCounter("sms.msgid", 42))
	v, err = s.Counter("sms.msgid")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestBookPersistsThroughStore(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	book := addrbook.New("mqtt", addrbook.WithPersister(s, 0))
	_, err = book.Add("0123456789abcdef", "tab")
	require.NoError(t, err)
	require.NoError(t, book.Flush())

	got, err := s.LoadAddresses("mqtt")
	require.NoError(t, err)
	assert.Equal(t, []addrbook.Entry{{Addr: "0123456789abcdef", Name: "tab"}}, got)
}
