package sink

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"Go2NetKPI/internal/model"
)

func record(id uint32, port uint16, latency, throughput float64, extended bool) model.LogRecord {
	m := model.DerivedMetrics{LatencyMs: latency, ThroughputMbps: throughput}
	if extended {
		m.Extended = true
		m.JitterMs = 1.0
		m.LossRate = 0.001
	}
	return model.LogRecord{
		Identity: model.FlowIdentity{
			FlowID:  id,
			SrcAddr: net.ParseIP("1.0.0.1"),
			DstAddr: net.ParseIP("10.1.2.2"),
			DstPort: port,
		},
		Metrics: m,
		Tick:    2 * time.Second,
	}
}

func openTemp(t *testing.T) (*DualSinkWriter, string, string) {
	t.Helper()
	dir := t.TempDir()
	textPath := filepath.Join(dir, "raw_kpi_log.txt")
	jsonPath := filepath.Join(dir, "raw_kpi_log.json")
	w, err := Open(textPath, jsonPath, false)
	require.NoError(t, err)
	return w, textPath, jsonPath
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestDualSinkWriter_ZeroRecords(t *testing.T) {
	w, textPath, jsonPath := openTemp(t)

	// Before finalize the array is still open.
	assert.Equal(t, "[\n", readFile(t, jsonPath))

	require.NoError(t, w.Finalize())

	assert.Equal(t, "", readFile(t, textPath))
	out := readFile(t, jsonPath)
	assert.Equal(t, "[\n]\n", out)
	assert.True(t, gjson.Valid(out))
	assert.Len(t, gjson.Parse(out).Array(), 0)
}

func TestDualSinkWriter_RecordsAndFinalize(t *testing.T) {
	w, textPath, jsonPath := openTemp(t)

	require.NoError(t, w.WriteBatch([]model.LogRecord{
		record(1, 5000, 0.05, 8, true),
		record(2, 5001, 0, 0, true),
	}))
	text, json := w.RecordsWritten()
	assert.Equal(t, uint64(2), text)
	assert.Equal(t, uint64(2), json)

	require.NoError(t, w.WriteRecord(record(3, 5002, 12.5, 0.25, true)))
	text, json = w.RecordsWritten()
	assert.Equal(t, text, json)
	assert.Equal(t, uint64(3), json)

	// Streamed form: every object comma-terminated, no closing bracket.
	streamed := readFile(t, jsonPath)
	assert.False(t, gjson.Valid(streamed))
	assert.Equal(t, ",\n", streamed[len(streamed)-2:])

	require.NoError(t, w.Finalize())

	out := readFile(t, jsonPath)
	require.True(t, gjson.Valid(out), out)
	arr := gjson.Parse(out).Array()
	require.Len(t, arr, 3)
	assert.Equal(t, int64(1), arr[0].Get("flow_id").Int())
	assert.Equal(t, "1.0.0.1", arr[0].Get("src").String())
	assert.Equal(t, "10.1.2.2", arr[0].Get("dst").String())
	assert.Equal(t, int64(5000), arr[0].Get("port").Int())
	assert.Equal(t, 0.05, arr[0].Get("latency_ms").Float())
	assert.Equal(t, 8.0, arr[0].Get("throughput_mbps").Float())
	assert.Equal(t, 1.0, arr[0].Get("jitter_ms").Float())
	assert.Equal(t, 0.001, arr[0].Get("packet_loss").Float())
	assert.Equal(t, 0.0, arr[1].Get("latency_ms").Float())
	assert.Equal(t, "\n]\n", out[len(out)-3:])

	lines := readFile(t, textPath)
	assert.Equal(t,
		"FlowID: 1 Src: 1.0.0.1 Dst: 10.1.2.2 Port: 5000 Latency: 0.05 ms Throughput: 8 Mbps Jitter: 1 LossRate: 0.001\n"+
			"FlowID: 2 Src: 1.0.0.1 Dst: 10.1.2.2 Port: 5001 Latency: 0 ms Throughput: 0 Mbps Jitter: 1 LossRate: 0.001\n"+
			"FlowID: 3 Src: 1.0.0.1 Dst: 10.1.2.2 Port: 5002 Latency: 12.5 ms Throughput: 0.25 Mbps Jitter: 1 LossRate: 0.001\n",
		lines)
}

func TestDualSinkWriter_FinalizeIdempotent(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		w, textPath, jsonPath := openTemp(t)
		for i := 0; i < n; i++ {
			require.NoError(t, w.WriteRecord(record(uint32(i+1), 5000, 1, 1, false)))
		}
		require.NoError(t, w.Finalize())
		onceJSON, onceText := readFile(t, jsonPath), readFile(t, textPath)

		require.NoError(t, w.Finalize())
		assert.Equal(t, onceJSON, readFile(t, jsonPath), "records=%d", n)
		assert.Equal(t, onceText, readFile(t, textPath), "records=%d", n)
		assert.True(t, gjson.Valid(onceJSON))
		assert.Equal(t, int64(n), gjson.Get(onceJSON, "#").Int())
		assert.True(t, w.Closed())
	}
}

func TestDualSinkWriter_WriteAfterFinalize(t *testing.T) {
	w, _, _ := openTemp(t)
	require.NoError(t, w.Finalize())

	err := w.WriteRecord(record(1, 5000, 1, 1, false))
	assert.True(t, errors.Is(err, ErrClosed))
	text, json := w.RecordsWritten()
	assert.Zero(t, text)
	assert.Zero(t, json)
}

func TestFormatText_Basic(t *testing.T) {
	line := string(FormatText(record(7, 5001, 0.05, 8, false)))
	assert.Equal(t, "FlowID: 7 Src: 1.0.0.1 Dst: 10.1.2.2 Port: 5001 Latency: 0.05ms Throughput: 8Mbps\n", line)
}

func TestFormatText_SixSignificantDigits(t *testing.T) {
	line := string(FormatText(record(1, 5000, 11.006739252525254, 1234567.8, true)))
	assert.Equal(t, "FlowID: 1 Src: 1.0.0.1 Dst: 10.1.2.2 Port: 5000 Latency: 11.0067 ms Throughput: 1.23457e+06 Mbps Jitter: 1 LossRate: 0.001\n", line)

	// The JSON log keeps full precision.
	b, err := FormatJSON(record(1, 5000, 11.006739252525254, 1234567.8, true))
	require.NoError(t, err)
	assert.Equal(t, 11.006739252525254, gjson.GetBytes(b[:len(b)-len(recordSeparator)], "latency_ms").Float())
}

func TestFormatJSON_BasicOmitsPlaceholders(t *testing.T) {
	b, err := FormatJSON(record(7, 5001, 0.05, 8, false))
	require.NoError(t, err)
	obj := string(b[:len(b)-len(recordSeparator)])
	assert.Equal(t, `{"flow_id":7,"src":"1.0.0.1","dst":"10.1.2.2","port":5001,"latency_ms":0.05,"throughput_mbps":8}`, obj)
	assert.False(t, gjson.Get(obj, "jitter_ms").Exists())
	assert.False(t, gjson.Get(obj, "packet_loss").Exists())
}

// memFile is an in-memory File that can be told to fail.
type memFile struct {
	buf          []byte
	off          int64
	writes       int
	failWriteAt  int // 1-based write call that fails; 0 never
	partial      int // bytes accepted by the failing write
	failTruncate bool
}

var errDiskFull = errors.New("no space left on device")

func (f *memFile) Write(p []byte) (int, error) {
	f.writes++
	if f.failWriteAt != 0 && f.writes == f.failWriteAt {
		n := f.partial
		f.put(p[:n])
		return n, errDiskFull
	}
	f.put(p)
	return len(p), nil
}

func (f *memFile) put(p []byte) {
	end := f.off + int64(len(p))
	for int64(len(f.buf)) < end {
		f.buf = append(f.buf, 0)
	}
	copy(f.buf[f.off:], p)
	f.off = end
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.off = offset
	case io.SeekEnd:
		f.off = int64(len(f.buf)) + offset
	default:
		f.off += offset
	}
	return f.off, nil
}

func (f *memFile) Truncate(size int64) error {
	if f.failTruncate {
		return errDiskFull
	}
	f.buf = f.buf[:size]
	return nil
}

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }

func newMemWriter(t *testing.T, textFile, jsonFile *memFile) *DualSinkWriter {
	t.Helper()
	js, err := newJSONSink("mem.json", jsonFile, false)
	require.NoError(t, err)
	return NewDualSinkWriter(newTextSink("mem.txt", textFile, false), js)
}

func TestDualSinkWriter_TextFailureRollsBackBatch(t *testing.T) {
	textFile, jsonFile := &memFile{}, &memFile{}
	w := newMemWriter(t, textFile, jsonFile)

	require.NoError(t, w.WriteRecord(record(1, 5000, 1, 1, false)))
	textBefore, jsonBefore := string(textFile.buf), string(jsonFile.buf)

	// Second record of the next batch fails half way through the line.
	textFile.failWriteAt = textFile.writes + 2
	textFile.partial = 5
	err := w.WriteBatch([]model.LogRecord{
		record(2, 5001, 1, 1, false),
		record(3, 5002, 1, 1, false),
	})
	require.Error(t, err)
	assert.True(t, IsIoError(err))
	assert.True(t, errors.Is(err, errDiskFull))

	text, json := w.RecordsWritten()
	assert.Equal(t, uint64(1), text)
	assert.Equal(t, uint64(1), json)
	assert.Equal(t, textBefore, string(textFile.buf))
	assert.Equal(t, jsonBefore, string(jsonFile.buf))

	// The writer keeps going once the disk recovers.
	require.NoError(t, w.WriteRecord(record(4, 5000, 1, 1, false)))
	require.NoError(t, w.Finalize())
	out := string(jsonFile.buf)
	require.True(t, gjson.Valid(out), out)
	assert.Equal(t, []int64{1, 4}, []int64{gjson.Get(out, "0.flow_id").Int(), gjson.Get(out, "1.flow_id").Int()})
}

func TestDualSinkWriter_JSONFailureRollsBackText(t *testing.T) {
	textFile, jsonFile := &memFile{}, &memFile{}
	w := newMemWriter(t, textFile, jsonFile)

	jsonFile.failWriteAt = jsonFile.writes + 1
	err := w.WriteRecord(record(1, 5000, 1, 1, false))
	require.Error(t, err)

	var ioErr *IoError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "write", ioErr.Op)
	assert.Equal(t, "mem.json", ioErr.Path)

	text, json := w.RecordsWritten()
	assert.Zero(t, text)
	assert.Zero(t, json)
	assert.Empty(t, textFile.buf)
	assert.Equal(t, "[\n", string(jsonFile.buf))
}

func TestDualSinkWriter_FinalizeRetriesAfterFailedClose(t *testing.T) {
	textFile, jsonFile := &memFile{}, &memFile{}
	w := newMemWriter(t, textFile, jsonFile)
	require.NoError(t, w.WriteBatch([]model.LogRecord{
		record(1, 5000, 1, 1, false),
		record(2, 5001, 1, 1, false),
	}))

	// The separator is cut but the closing bracket only half lands.
	jsonFile.failWriteAt = jsonFile.writes + 1
	jsonFile.partial = 1
	err := w.Finalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDiskFull))
	assert.False(t, w.Closed())
	assert.True(t, errors.Is(w.WriteRecord(record(3, 5002, 1, 1, false)), ErrClosed))

	require.NoError(t, w.Finalize())
	assert.True(t, w.Closed())
	out := string(jsonFile.buf)
	require.True(t, gjson.Valid(out), out)
	assert.Equal(t, int64(2), gjson.Get(out, "#").Int())
	assert.True(t, strings.HasSuffix(out, "}\n]\n"), out)
	require.NoError(t, w.Finalize())
}

func TestDualSinkWriter_FailedRollbackStopsWrites(t *testing.T) {
	textFile, jsonFile := &memFile{}, &memFile{}
	w := newMemWriter(t, textFile, jsonFile)

	jsonFile.failWriteAt = jsonFile.writes + 1
	textFile.failTruncate = true
	require.Error(t, w.WriteRecord(record(1, 5000, 1, 1, false)))

	err := w.WriteRecord(record(2, 5000, 1, 1, false))
	assert.True(t, errors.Is(err, ErrDesynchronized))
}

func TestOpen_MissingDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing", "a.txt"), filepath.Join(dir, "b.json"), false)
	require.Error(t, err)
	assert.True(t, IsIoError(err))
}
