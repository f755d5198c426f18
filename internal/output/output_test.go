package output

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callx/internal/audio"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/sip"
)

func pcmOf(t *testing.T, size int, callerAudio bool) *audio.PcmAudio {
	t.Helper()
	pcm := &audio.PcmAudio{
		CallID:      "call-1",
		Caller:      sip.FromTo{Address: "sip:alice@example.com", DisplayName: "Alice"},
		Start:       time.Unix(1700000000, 0),
		CallerAudio: callerAudio,
	}
	for size > 0 {
		n := min(size, 1000)
		c := audio.NewMemChunk(1000)
		b, ok := c.Declare(n)
		require.True(t, ok)
		for i := range b {
			b[i] = byte(i)
		}
		pcm.AddChunk(c)
		size -= n
	}
	return pcm
}

func TestWaveHeader(t *testing.T) {
	h := waveHeader(1600)
	le := binary.LittleEndian

	assert.Equal(t, "RIFF", string(h[0:4]))
	assert.Equal(t, uint32(1636), le.Uint32(h[4:8]))
	assert.Equal(t, "WAVEfmt ", string(h[8:16]))
	assert.Equal(t, uint16(1), le.Uint16(h[20:22]))
	assert.Equal(t, uint16(1), le.Uint16(h[22:24]))
	assert.Equal(t, uint32(8000), le.Uint32(h[24:28]))
	assert.Equal(t, uint32(16000), le.Uint32(h[28:32]))
	assert.Equal(t, uint16(2), le.Uint16(h[32:34]))
	assert.Equal(t, uint16(16), le.Uint16(h[34:36]))
	assert.Equal(t, "data", string(h[36:40]))
	assert.Equal(t, uint32(1600), le.Uint32(h[40:44]))
}

func TestWaveWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewWaveWriter(dir)

	path, err := w.Write(pcmOf(t, 2500, true), "call-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "call-1_caller.wav"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, waveHeaderLen+2500)
	assert.Equal(t, waveHeader(2500), data[:waveHeaderLen])
	assert.Equal(t, byte(0), data[waveHeaderLen])
	assert.Equal(t, byte(1), data[waveHeaderLen+1])

	tmp, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, tmp)
}

func TestWaveWriter_EmptyAudioLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path, err := NewWaveWriter(dir).Write(&audio.PcmAudio{CallID: "x"}, "x")
	require.NoError(t, err)
	assert.Empty(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWaveWriter_MissingDirectory(t *testing.T) {
	_, err := NewWaveWriter(filepath.Join(t.TempDir(), "missing")).Write(pcmOf(t, 10, false), "x")
	assert.Error(t, err)
}

// sink accepts one connection and collects everything sent on it.
func sink(t *testing.T) (string, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(got)
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		got <- data
	}()
	return ln.Addr().String(), got
}

func TestSocketWriter(t *testing.T) {
	addr, got := sink(t)
	w := NewSocketWriter(addr, 1, log.Discard())

	require.NoError(t, w.Send(42, pcmOf(t, 20000, true)))
	require.NoError(t, w.Send(43, pcmOf(t, 100, false)))
	w.Close()

	var data []byte
	select {
	case data = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no data received")
	}

	first := 8 + 8 + 16000 + 8
	require.Len(t, data, first+8+8+100+8)

	assert.Equal(t, startSeparator, data[0:8])
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, endSeparator, data[first-8:first])

	second := data[first:]
	assert.Equal(t, startSeparator, second[0:8])
	assert.Equal(t, uint64(43), binary.LittleEndian.Uint64(second[8:16]))
	assert.Equal(t, []byte{1, 0, 10, 0, 100, 0, 0xE8, 0x03}, startSeparator)
}

func TestSocketWriter_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	w := NewSocketWriter(addr, 1, log.Discard())
	w.timeout = 100 * time.Millisecond
	assert.Error(t, w.Send(1, pcmOf(t, 10, true)))
}

type fakePutter struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri, bucket, prefix string
		wantErr             bool
	}{
		{uri: "s3://rec", bucket: "rec"},
		{uri: "s3://rec/", bucket: "rec"},
		{uri: "s3://rec/calls", bucket: "rec", prefix: "calls/"},
		{uri: "s3://rec/calls/2024/", bucket: "rec", prefix: "calls/2024/"},
		{uri: "https://rec/calls", wantErr: true},
		{uri: "s3:///calls", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestS3Uploader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "7_caller.wav")
	require.NoError(t, os.WriteFile(path, []byte("wave"), 0o644))

	fake := &fakePutter{}
	u, err := NewS3UploaderWithClient(fake, "s3://rec/calls", true)
	require.NoError(t, err)

	loc, err := u.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "s3://rec/calls/7_caller.wav", loc)
	assert.Equal(t, []byte("wave"), fake.puts["rec/calls/7_caller.wav"])
	assert.NoFileExists(t, path)
}

func TestS3Uploader_FailureKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "7_caller.wav")
	require.NoError(t, os.WriteFile(path, []byte("wave"), 0o644))

	u, err := NewS3UploaderWithClient(&fakePutter{err: errors.New("denied")}, "s3://rec", true)
	require.NoError(t, err)
	_, err = u.Upload(context.Background(), path)
	assert.Error(t, err)
	assert.FileExists(t, path)
}

type fakeRecords struct {
	id    int64
	err   error
	calls []string
}

func (f *fakeRecords) InsertCall(_ context.Context, name, uri string) (int64, error) {
	f.calls = append(f.calls, name+" "+uri)
	return f.id, f.err
}

func TestHandler_RecordIDNamesFile(t *testing.T) {
	dir := t.TempDir()
	records := &fakeRecords{id: 42}
	fake := &fakePutter{}
	up, err := NewS3UploaderWithClient(fake, "s3://rec", false)
	require.NoError(t, err)

	h := NewHandler(Options{RecordCaller: true, RecordCallee: true}, log.Discard(),
		WithRecordStore(records), WithWaveWriter(NewWaveWriter(dir)), WithS3Uploader(up))
	h.Handle(context.Background(), pcmOf(t, 100, false))

	assert.Equal(t, []string{"Alice sip:alice@example.com"}, records.calls)
	assert.FileExists(t, filepath.Join(dir, "42_callee.wav"))
	assert.Contains(t, fake.puts, "rec/42_callee.wav")
}

func TestHandler_SkipsOnRecordFailure(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(Options{RecordCaller: true, RecordCallee: true}, log.Discard(),
		WithRecordStore(&fakeRecords{err: errors.New("db down")}), WithWaveWriter(NewWaveWriter(dir)))
	h.Handle(context.Background(), pcmOf(t, 100, true))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandler_DirectionFilter(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(Options{RecordCaller: true}, log.Discard(), WithWaveWriter(NewWaveWriter(dir)))

	h.Handle(context.Background(), pcmOf(t, 100, true))
	h.Handle(context.Background(), pcmOf(t, 100, false))

	assert.FileExists(t, filepath.Join(dir, "call-1_caller.wav"))
	assert.NoFileExists(t, filepath.Join(dir, "call-1_callee.wav"))
}
