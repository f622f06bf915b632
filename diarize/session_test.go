package diarize

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeModel отдаёт заранее заданные результаты по порядку вызовов
type fakeModel struct {
	mu     sync.Mutex
	script [][]RawSegment
	errs   []error
	calls  int

	entered chan struct{} // закрывается при входе в Process (если задан)
	release chan struct{} // Process ждёт этот канал (если задан)
}

func (m *fakeModel) Process(samples []float32) ([]RawSegment, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	entered := m.entered
	release := m.release
	m.entered = nil
	m.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}

	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}
	if call < len(m.script) {
		return m.script[call], nil
	}
	return nil, nil
}

func (m *fakeModel) SampleRate() int { return 16000 }
func (m *fakeModel) Close()          {}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testConfig компактный пайплайн: чанк 6с, перекрытие 2с
func testConfig() SessionConfig {
	return SessionConfig{ChunkDurationSec: 6, OverlapDurationSec: 2}
}

// feed добавляет тишину блоками по полсекунды, как живой захват
func feed(s *Session, seconds float64) {
	block := make([]int16, 8000)
	total := int(seconds * 16000)
	for total > 0 {
		n := len(block)
		if n > total {
			n = total
		}
		s.AppendPCM(block[:n])
		total -= n
	}
}

func TestSessionShorterThanChunk(t *testing.T) {
	model := &fakeModel{
		script: [][]RawSegment{
			{{StartSec: 0, EndSec: 1, Speaker: 5}, {StartSec: 1.5, EndSec: 3, Speaker: 2}},
		},
	}
	s := NewSession(model, testConfig())
	s.Start()

	feed(s, 3)
	if got := model.callCount(); got != 0 {
		t.Fatalf("model called %d times before Stop, want 0", got)
	}

	segments, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Единственный чанк: берём всё, спикеры в порядке появления
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	want := []Segment{
		{StartMs: 0, EndMs: 1000, Speaker: 0},
		{StartMs: 1500, EndMs: 3000, Speaker: 1},
	}
	for i, seg := range segments {
		if seg != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, seg, want[i])
		}
	}
	if got := s.TotalProcessedMs(); got != 3000 {
		t.Errorf("TotalProcessedMs = %d, want 3000", got)
	}
}

func TestSessionTooShortToProcess(t *testing.T) {
	model := &fakeModel{}
	s := NewSession(model, testConfig())
	s.Start()

	feed(s, 0.5)

	segments, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("got %d segments, want 0", len(segments))
	}
	if got := model.callCount(); got != 0 {
		t.Errorf("model called %d times for sub-second session, want 0", got)
	}
}

func TestSessionMultiChunkPipeline(t *testing.T) {
	model := &fakeModel{
		script: [][]RawSegment{
			// Чанк 0 (0-6с)
			{
				{StartSec: 0, EndSec: 2, Speaker: 0},
				{StartSec: 2, EndSec: 4, Speaker: 1},
				{StartSec: 4.5, EndSec: 6, Speaker: 0},
			},
			// Чанк 1 (база 4с): первый сегмент продолжает спикера из зоны
			// перекрытия, второй - целиком после зоны
			{
				{StartSec: 0.5, EndSec: 2, Speaker: 0},
				{StartSec: 2.5, EndSec: 5.5, Speaker: 1},
			},
			// Финальный хвост (база 8с)
			{
				{StartSec: 1, EndSec: 2, Speaker: 0},
			},
		},
	}
	s := NewSession(model, testConfig())
	s.Start()

	// Первый чанк: порог 6с
	feed(s, 6)
	if got := s.ChunkIndex(); got != 1 {
		t.Fatalf("after first chunk: ChunkIndex = %d, want 1", got)
	}
	if got := s.TotalProcessedMs(); got != 4000 {
		t.Errorf("after first chunk: TotalProcessedMs = %d, want 4000", got)
	}
	// В буфере остался только хвост перекрытия
	if got := s.BufferedSamples(); got != 2*16000 {
		t.Errorf("after first chunk: BufferedSamples = %d, want %d", got, 2*16000)
	}

	// Второй чанк: хвост 2с + новые 4с
	feed(s, 4)
	if got := s.ChunkIndex(); got != 2 {
		t.Fatalf("after second chunk: ChunkIndex = %d, want 2", got)
	}
	if got := s.TotalProcessedMs(); got != 8000 {
		t.Errorf("after second chunk: TotalProcessedMs = %d, want 8000", got)
	}

	segments, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []Segment{
		{StartMs: 0, EndMs: 2000, Speaker: 0},
		{StartMs: 2000, EndMs: 4000, Speaker: 1},
		{StartMs: 4500, EndMs: 6000, Speaker: 0}, // сшит через зону перекрытия
		{StartMs: 9000, EndMs: 10000, Speaker: 3},
	}
	if len(segments) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segments), len(want), segments)
	}
	for i, seg := range segments {
		if seg != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, seg, want[i])
		}
	}

	if got := s.TotalProcessedMs(); got != 10000 {
		t.Errorf("final TotalProcessedMs = %d, want 10000", got)
	}
	if got := model.callCount(); got != 3 {
		t.Errorf("model called %d times, want 3", got)
	}
}

func TestSessionBufferStaysBounded(t *testing.T) {
	model := &fakeModel{}
	s := NewSession(model, testConfig())
	s.Start()

	// Час аудио в масштабе теста: буфер никогда не превышает размер чанка
	limit := s.chunkSamples
	for i := 0; i < 120; i++ {
		feed(s, 0.5)
		if got := s.BufferedSamples(); got > limit {
			t.Fatalf("after %.1fs: BufferedSamples = %d, exceeds chunk size %d",
				float64(i+1)*0.5, got, limit)
		}
	}
}

func TestSessionChunkErrorKeepsBuffer(t *testing.T) {
	model := &fakeModel{
		errs: []error{errors.New("inference failed")},
		script: [][]RawSegment{
			nil,
			{{StartSec: 0, EndSec: 2, Speaker: 0}},
		},
	}

	var chunkErr error
	cfg := testConfig()
	cfg.OnChunkError = func(err error) { chunkErr = err }

	s := NewSession(model, cfg)
	s.Start()

	feed(s, 6)

	// Чанк упал: буфер сохранён целиком, состояние не сдвинулось
	if chunkErr == nil {
		t.Fatal("OnChunkError was not called")
	}
	if got := s.BufferedSamples(); got != 6*16000 {
		t.Errorf("BufferedSamples after error = %d, want %d", got, 6*16000)
	}
	if got := s.ChunkIndex(); got != 0 {
		t.Errorf("ChunkIndex after error = %d, want 0", got)
	}

	// Следующий порог: повтор успешен
	feed(s, 0.5)
	if got := s.ChunkIndex(); got != 1 {
		t.Fatalf("ChunkIndex after retry = %d, want 1", got)
	}
	if got := s.BufferedSamples(); got != 2*16000 {
		t.Errorf("BufferedSamples after retry = %d, want %d", got, 2*16000)
	}
}

func TestSessionResetDuringProcessingDiscardsResult(t *testing.T) {
	model := &fakeModel{
		script:  [][]RawSegment{{{StartSec: 0, EndSec: 2, Speaker: 0}}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := NewSession(model, testConfig())
	s.Start()

	done := make(chan struct{})
	go func() {
		feed(s, 6) // заблокируется в вызове модели
		close(done)
	}()

	<-model.entered
	s.Reset()
	close(model.release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("append did not return after release")
	}

	// Результат устаревшего чанка отброшен, сессия чистая
	if s.Recording() {
		t.Error("session still recording after Reset")
	}
	if got := s.BufferedSamples(); got != 0 {
		t.Errorf("BufferedSamples = %d, want 0", got)
	}
	if got := s.ChunkIndex(); got != 0 {
		t.Errorf("ChunkIndex = %d, want 0", got)
	}
	if _, err := s.Stop(); err == nil {
		t.Error("Stop after Reset should fail (not recording)")
	}
}

func TestSessionStopWhenNotRecording(t *testing.T) {
	s := NewSession(&fakeModel{}, testConfig())

	if _, err := s.Stop(); err == nil {
		t.Fatal("Stop without Start should fail")
	}

	s.Start()
	if _, err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if _, err := s.Stop(); err == nil {
		t.Fatal("second Stop should fail")
	}
}

func TestSessionAppendIgnoredWhenIdle(t *testing.T) {
	s := NewSession(&fakeModel{}, testConfig())

	feed(s, 1)
	if got := s.BufferedSamples(); got != 0 {
		t.Errorf("BufferedSamples = %d, want 0 (append before Start ignored)", got)
	}
}

func TestForceFinalizeDoesNotMutateState(t *testing.T) {
	model := &fakeModel{
		script: [][]RawSegment{
			{
				{StartSec: 0, EndSec: 2, Speaker: 0},
				{StartSec: 2, EndSec: 4, Speaker: 1},
				{StartSec: 4.5, EndSec: 6, Speaker: 0},
			},
			// Вызов из ForceFinalize
			{{StartSec: 0.5, EndSec: 2, Speaker: 0}},
		},
	}
	s := NewSession(model, testConfig())
	s.Start()
	feed(s, 6)

	snapshot, err := s.ForceFinalize()
	if err != nil {
		t.Fatalf("ForceFinalize: %v", err)
	}

	want := []Segment{
		{StartMs: 0, EndMs: 2000, Speaker: 0},
		{StartMs: 2000, EndMs: 4000, Speaker: 1},
		{StartMs: 4500, EndMs: 6000, Speaker: 0},
	}
	if len(snapshot) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(snapshot), len(want), snapshot)
	}
	for i, seg := range snapshot {
		if seg != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, seg, want[i])
		}
	}

	// Состояние пайплайна не изменилось
	if got := s.ChunkIndex(); got != 1 {
		t.Errorf("ChunkIndex = %d, want 1", got)
	}
	if got := s.TotalProcessedMs(); got != 4000 {
		t.Errorf("TotalProcessedMs = %d, want 4000", got)
	}
	if got := s.BufferedSamples(); got != 2*16000 {
		t.Errorf("BufferedSamples = %d, want %d", got, 2*16000)
	}
	if got := s.rec.nextGlobalID; got != 2 {
		t.Errorf("nextGlobalID = %d, want 2 (preview must not consume IDs)", got)
	}
}

func TestForceFinalizeEmptyBuffer(t *testing.T) {
	model := &fakeModel{}
	s := NewSession(model, testConfig())
	s.Start()
	feed(s, 0.5)

	snapshot, err := s.ForceFinalize()
	if err != nil {
		t.Fatalf("ForceFinalize: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("got %d segments, want 0", len(snapshot))
	}
	if got := model.callCount(); got != 0 {
		t.Errorf("model called %d times for sub-second buffer, want 0", got)
	}
}

func TestSessionRestartGetsFreshSpeakerIDs(t *testing.T) {
	model := &fakeModel{
		script: [][]RawSegment{
			{{StartSec: 0, EndSec: 2, Speaker: 9}},
			{{StartSec: 0, EndSec: 2, Speaker: 4}},
		},
	}
	s := NewSession(model, testConfig())

	s.Start()
	feed(s, 3)
	first, err := s.Stop()
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}

	s.Start()
	feed(s, 3)
	second, err := s.Stop()
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if first[0].Speaker != 0 || second[0].Speaker != 0 {
		t.Errorf("speakers = %d, %d; each session must start from global ID 0",
			first[0].Speaker, second[0].Speaker)
	}
}
