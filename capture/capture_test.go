package capture

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	recs := []Record{
		{Offset: 0, Payload: []byte{1, 2, 3}},
		{Offset: 1500 * time.Microsecond, Payload: []byte{}},
		{Offset: 2 * time.Second, Payload: bytes.Repeat([]byte{0xAA}, 300)},
	}
	for _, r := range recs {
		require.NoError(t, WriteRecord(&buf, r))
	}
	assert.Equal(t, 3*recordHeaderLen+303, buf.Len())

	// length then offset, little-endian
	raw := buf.Bytes()
	assert.Equal(t, []byte{3, 0}, raw[0:2])
	assert.Equal(t, []byte{1, 2, 3}, raw[10:13])

	rd := NewReader(bytes.NewReader(raw))
	for _, want := range recs {
		got, err := rd.Next()
		require.NoError(t, err)
		assert.Equal(t, want.Offset, got.Offset)
		assert.Equal(t, len(want.Payload), len(got.Payload))
	}
	_, err := rd.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 3, rd.Count())
}

func TestRecordTooLong(t *testing.T) {
	err := WriteRecord(io.Discard, Record{Payload: make([]byte, 40000)})
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, Record{Offset: time.Millisecond, Payload: []byte{1, 2, 3, 4}}))
	require.NoError(t, WriteRecord(&buf, Record{Offset: 2 * time.Millisecond, Payload: []byte{5, 6, 7, 8}}))

	for _, cut := range []int{1, 5, 12} {
		raw := buf.Bytes()[:buf.Len()-cut]
		rd := NewReader(bytes.NewReader(raw))
		_, err := rd.Next()
		require.NoError(t, err)
		_, err = rd.Next()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut %d", cut)
	}

	s, err := Scan(bytes.NewReader(buf.Bytes()[:buf.Len()-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 1, s.Records)
}

func TestScan(t *testing.T) {
	var buf bytes.Buffer
	for _, ms := range []int{0, 100, 250} {
		require.NoError(t, WriteRecord(&buf, Record{Offset: time.Duration(ms) * time.Millisecond, Payload: []byte{0, 0}}))
	}
	s, err := Scan(&buf)
	require.NoError(t, err)
	assert.Equal(t, Summary{Records: 3, First: 0, Last: 250 * time.Millisecond, Bytes: 6}, s)
	assert.Equal(t, 250*time.Millisecond, s.Span())

	s, err = Scan(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, s.Records)
}

func TestHeaderOffsets(t *testing.T) {
	text, offs := headerText()
	assert.Equal(t, []int64{13, 29, 67, 90}, offs)
	assert.True(t, strings.HasPrefix(text, "# first_id =          \n# n =          \n# dt = 1.0\n"))
	assert.Contains(t, text, "# dimensions = [          ]\n# last_id =          \n")
}

func TestSpikeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.neuro")
	s, err := Create(path, FormatSpikes)
	require.NoError(t, err)
	for i, id := range []int{3, 1, 9} {
		require.NoError(t, s.WriteSpike(time.Duration(i*5)*time.Millisecond, id))
	}
	// raw packets are not part of a spike capture
	require.NoError(t, s.WritePacket(0, []byte{1}))
	st, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Events)
	assert.Equal(t, 1, st.MinID)
	assert.Equal(t, 9, st.MaxID)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "# first_id = 1        ", lines[0])
	assert.Equal(t, "# n = 8        ", lines[1])
	assert.Equal(t, "# dt = 1.0", lines[2])
	assert.Equal(t, "# dimensions = [ 8        ]", lines[3])
	assert.Equal(t, "# last_id = 9        ", lines[4])
	assert.Equal(t, []string{"0.0\t3.0", "5.0\t1.0", "10.0\t9.0"}, lines[5:])

	_, err = s.Close()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.WriteSpike(0, 1), ErrClosed)
}

func TestEmptySpikeFileKeepsBlankHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.neuro")
	s, err := Create(path, FormatSpikes)
	require.NoError(t, err)
	_, err = s.Close()
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text, _ := headerText()
	assert.Equal(t, text, string(b))
}

func TestRawSinkPause(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.spinn")
	s, err := Create(path, FormatRaw)
	require.NoError(t, err)
	require.NoError(t, s.WritePacket(0, []byte{1}))
	s.Pause()
	assert.True(t, s.Stats().Paused)
	require.NoError(t, s.WritePacket(time.Millisecond, []byte{2}))
	s.Resume()
	require.NoError(t, s.WritePacket(2*time.Millisecond, []byte{3}))
	require.NoError(t, s.WriteSpike(0, 4))
	st, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Packets)
	assert.Equal(t, path+" (raw, 2 packets)", st.String())

	sum, err := ScanFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, 2*time.Millisecond, sum.Last)
}

func TestFormat(t *testing.T) {
	for in, want := range map[string]Format{"raw": FormatRaw, ".spinn": FormatRaw, "2": FormatSpikes, "Neuro": FormatSpikes, "": FormatNone} {
		f, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, f, in)
	}
	_, err := ParseFormat("pcap")
	assert.Error(t, err)

	_, err = Create(filepath.Join(t.TempDir(), "x"), FormatNone)
	assert.Error(t, err)

	ts := time.Date(2013, 4, 19, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "packets-2013Apr19_0905.spinn", DefaultName(FormatRaw, ts))
	assert.Equal(t, "packets-2013Apr19_0905.neuro", DefaultName(FormatSpikes, ts))
}
