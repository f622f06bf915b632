package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVWriterRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wav")

	w, err := NewWAVWriter(path, 16000, 1)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}

	samples := []int16{0, 100, -100, 32767, -32768, 42}
	if err := w.WritePCM16(samples); err != nil {
		t.Fatalf("WritePCM16 failed: %v", err)
	}
	if w.SamplesWritten() != int64(len(samples)) {
		t.Errorf("SamplesWritten = %d, want %d", w.SamplesWritten(), len(samples))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadWAV(path, 16000)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i, s := range samples {
		if got[i] != s {
			t.Errorf("sample %d = %d, want %d", i, got[i], s)
		}
	}
}

func TestReadWAVStereoToMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")

	w, err := NewWAVWriter(path, 16000, 2)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}
	// Interleaved L/R: каждый фрейм усредняется
	if err := w.WritePCM16([]int16{100, 300, -200, 0, 1000, 1000}); err != nil {
		t.Fatalf("WritePCM16 failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadWAV(path, 16000)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}

	want := []int16{200, -100, 1000}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestReadWAVResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate.wav")

	w, err := NewWAVWriter(path, 32000, 1)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}
	samples := make([]int16, 32000) // 1 секунда на 32кГц
	if err := w.WritePCM16(samples); err != nil {
		t.Fatalf("WritePCM16 failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadWAV(path, 16000)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if len(got) != 16000 {
		t.Errorf("resampled length = %d, want 16000", len(got))
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("definitely not a wav file at all, nope"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadWAV(path, 16000); err == nil {
		t.Error("ReadWAV should reject non-WAV data")
	}
}

func TestReadWAVRejectsNonPCM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float.wav")

	w, err := NewWAVWriter(path, 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	w.WritePCM16(make([]int16, 100))
	w.Close()

	// Портим код формата: 3 = IEEE float
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint16(data[20:], 3)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadWAV(path, 16000); err == nil {
		t.Error("ReadWAV should reject non-PCM format")
	}
}

func TestResamplePCM16(t *testing.T) {
	// Понижение вдвое: каждый второй сэмпл
	src := []int16{0, 10, 20, 30, 40, 50, 60, 70}
	down := resamplePCM16(src, 32000, 16000)
	if len(down) != 4 {
		t.Fatalf("downsampled length = %d, want 4", len(down))
	}
	want := []int16{0, 20, 40, 60}
	for i := range want {
		if down[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, down[i], want[i])
		}
	}

	// Совпадающие частоты - без изменений
	same := resamplePCM16(src, 16000, 16000)
	if len(same) != len(src) {
		t.Errorf("same-rate length = %d, want %d", len(same), len(src))
	}

	// Повышение вдвое: промежуточные значения интерполируются
	up := resamplePCM16([]int16{0, 100}, 16000, 32000)
	if len(up) != 4 {
		t.Fatalf("upsampled length = %d, want 4", len(up))
	}
	if up[0] != 0 || up[2] != 100 {
		t.Errorf("upsampled = %v, want source values at even indexes", up)
	}
	if up[1] != 50 {
		t.Errorf("interpolated sample = %d, want 50", up[1])
	}
}
