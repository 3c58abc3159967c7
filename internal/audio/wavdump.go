package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1

	// dumpChanSize is the buffered channel capacity for queued packets.
	dumpChanSize = 128

	// dumpFlushBytes is how many bytes to buffer before flushing to disk.
	dumpFlushBytes = 16384
)

// WAVDump captures the exact bytes a ClientChannel sends to the wire into a
// standard 44-byte RIFF/WAVE file, per Property/Audio/LogPath (§6). It runs
// a dedicated goroutine reading from a buffered channel so a slow disk
// never stalls the output scheduler: Write is non-blocking and drops on
// backlog, matching the teacher's media.Recorder pattern adapted from G.711
// call capture to the internal stereo 16-bit PCM wire format.
type WAVDump struct {
	mu       sync.Mutex
	file     *os.File
	filePath string
	dataSize uint32
	stopped  bool
	logger   *slog.Logger

	chunks chan []byte
	done   chan struct{}
}

// newWAVDump creates a WAV file under dir named
// vrdp-<client_id>-<hex_now_ns>.wav and starts its write goroutine.
func newWAVDump(dir, clientID string, format AudioFormat, logger *slog.Logger) (*WAVDump, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio log directory: %w", err)
	}

	name := fmt.Sprintf("vrdp-%s-%s.wav", clientID, strconv.FormatInt(time.Now().UnixNano(), 16))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating wav dump file: %w", err)
	}

	if err := writeWAVHeader(f, format, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing wav header: %w", err)
	}

	d := &WAVDump{
		file:     f,
		filePath: path,
		logger:   logger.With("subsystem", "audio-wavdump", "file", path),
		chunks:   make(chan []byte, dumpChanSize),
		done:     make(chan struct{}),
	}
	go d.writeLoop(format)

	d.logger.Info("wav dump started")
	return d, nil
}

// Write queues a copy of payload for capture. Non-blocking: if the write
// goroutine is behind, the payload is dropped rather than blocking the
// scheduler.
func (d *WAVDump) Write(payload []byte) {
	if len(payload) == 0 {
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case d.chunks <- buf:
	default:
	}
}

// Close finalizes the dump: drains queued bytes, rewrites the header with
// the final data size, and closes the file. Safe to call more than once.
func (d *WAVDump) Close() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.chunks)
	<-d.done

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.file.Seek(0, 0); err != nil {
		d.logger.Error("failed to seek for wav header rewrite", "error", err)
	} else if err := writeWAVHeader(d.file, negotiatedFormat, d.dataSize); err != nil {
		d.logger.Error("failed to rewrite wav header", "error", err)
	}
	d.file.Close()

	d.logger.Info("wav dump closed", "total_bytes", d.dataSize)
}

func (d *WAVDump) writeLoop(format AudioFormat) {
	defer close(d.done)

	buf := make([]byte, 0, dumpFlushBytes)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		n, err := d.file.Write(buf)
		if err != nil {
			d.logger.Error("failed to write wav dump data", "error", err)
		}
		d.mu.Lock()
		d.dataSize += uint32(n)
		d.mu.Unlock()
		buf = buf[:0]
	}

	for chunk := range d.chunks {
		buf = append(buf, chunk...)
		if len(buf) >= dumpFlushBytes {
			flush()
		}
	}
	flush()
}

// writeWAVHeader writes a 44-byte WAV header for the given format.
func writeWAVHeader(f *os.File, format AudioFormat, dataSize uint32) error {
	var hdr [wavHeaderSize]byte

	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], wavHeaderSize-8+dataSize)
	copy(hdr[8:12], "WAVE")

	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], format.Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], format.SampleRateHz)
	blockAlign := uint32(format.Channels) * uint32(format.BitsPerSample) / 8
	binary.LittleEndian.PutUint32(hdr[28:32], format.SampleRateHz*blockAlign)
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], format.BitsPerSample)

	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	_, err := f.Write(hdr[:])
	return err
}
