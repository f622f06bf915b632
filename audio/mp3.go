package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	shine "github.com/braheezy/shine-mp3/pkg/mp3"
	gomp3 "github.com/hajimehoshi/go-mp3"
)

// MP3Writer стриминговый писатель MP3 через shine-mp3 (чистый Go, без FFmpeg).
// Используется для дампа сессии: хост может переслушать запись, для которой
// получил сегменты диаризации.
type MP3Writer struct {
	file       *os.File
	encoder    *shine.Encoder
	filePath   string
	sampleRate int
	channels   int

	// Буфер для накопления сэмплов (shine кодирует фиксированными блоками)
	buffer []int16

	samplesWritten int64
	mu             sync.Mutex
	closed         bool
}

// NewMP3Writer создаёт новый MP3 writer
func NewMP3Writer(filePath string, sampleRate, channels int) (*MP3Writer, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	encoder := shine.NewEncoder(sampleRate, channels)

	log.Printf("MP3Writer started: %s (rate=%d, ch=%d)", filePath, sampleRate, channels)

	return &MP3Writer{
		file:       file,
		encoder:    encoder,
		filePath:   filePath,
		sampleRate: sampleRate,
		channels:   channels,
		buffer:     make([]int16, 0, 8192),
	}, nil
}

// WritePCM16 записывает 16-bit PCM сэмплы
func (w *MP3Writer) WritePCM16(samples []int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	w.buffer = append(w.buffer, samples...)
	w.samplesWritten += int64(len(samples))

	// Shine кодирует блоками по 1152 сэмплов на канал для MP3 Layer III.
	// Пишем когда накопилось 4 блока.
	minBufferSize := 1152 * w.channels * 4
	if len(w.buffer) >= minBufferSize {
		w.encoder.Write(w.file, w.buffer)
		w.buffer = w.buffer[:0]
	}

	return nil
}

// SamplesWritten возвращает количество записанных сэмплов
func (w *MP3Writer) SamplesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samplesWritten
}

// Duration возвращает длительность записи
func (w *MP3Writer) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	frames := w.samplesWritten / int64(w.channels)
	return time.Duration(frames) * time.Second / time.Duration(w.sampleRate)
}

// Close дописывает остаток буфера и закрывает файл
func (w *MP3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.buffer) > 0 {
		// Дополняем до размера блока нулями
		blockSize := 1152 * w.channels
		for len(w.buffer)%blockSize != 0 {
			w.buffer = append(w.buffer, 0)
		}
		w.encoder.Write(w.file, w.buffer)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	log.Printf("MP3Writer closed: %s (%d samples)", w.filePath, w.samplesWritten)
	return nil
}

// FilePath возвращает путь к файлу
func (w *MP3Writer) FilePath() string {
	return w.filePath
}

// ReadMP3 читает MP3 файл целиком и возвращает моно 16-bit PCM с целевой
// частотой дискретизации. go-mp3 всегда декодирует в стерео 16-bit.
func ReadMP3(filePath string, targetSampleRate int) ([]int16, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer file.Close()

	decoder, err := gomp3.NewDecoder(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	// signed 16-bit stereo interleaved: 4 байта на фрейм
	frames := len(pcmData) / 4
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcmData[i*4:]))
		right := int16(binary.LittleEndian.Uint16(pcmData[i*4+2:]))
		mono[i] = int16((int32(left) + int32(right)) / 2)
	}

	srcRate := decoder.SampleRate()
	if srcRate != targetSampleRate {
		mono = resamplePCM16(mono, srcRate, targetSampleRate)
	}

	log.Printf("ReadMP3: %s -> %d samples at %d Hz", filePath, len(mono), targetSampleRate)
	return mono, nil
}
