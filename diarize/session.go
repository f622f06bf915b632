package diarize

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// DefaultChunkDurationSec длительность чанка, отправляемого в модель.
	// Длинные чанки амортизируют стоимость запуска модели и дают кластеризации
	// больше контекста.
	DefaultChunkDurationSec = 180

	// DefaultOverlapDurationSec хвост чанка, который остаётся в буфере и
	// обрабатывается повторно как начало следующего чанка. Должен вмещать
	// хотя бы одну полную реплику каждого спикера. Соотношение 30/180
	// ограничивает накладные расходы на повторную обработку ~17%.
	DefaultOverlapDurationSec = 30

	// minProcessSec минимальная длительность буфера для вызова модели
	minProcessSec = 1

	// finalizeToleranceMs допуск на границе последнего коммита, чтобы не
	// потерять и не задублировать сегменты при финализации
	finalizeToleranceMs = 500
)

// SessionConfig конфигурация сессии диаризации
type SessionConfig struct {
	ChunkDurationSec   int        // Длительность чанка (сек), default: 180
	OverlapDurationSec int        // Зона перекрытия (сек), default: 30
	VAD                *SileroVAD // Опциональный VAD: пропуск модели на тишине

	// OnChunkError вызывается когда чанк отброшен из-за ошибки модели.
	// Вызов идёт под мьютексом сессии - колбэк не должен дёргать сессию.
	OnChunkError func(err error)
}

// DefaultSessionConfig возвращает конфигурацию по умолчанию
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ChunkDurationSec:   DefaultChunkDurationSec,
		OverlapDurationSec: DefaultOverlapDurationSec,
	}
}

// Session состояние одной сессии диаризации: накопитель аудио, счётчики
// пайплайна и накопленный итоговый список сегментов. Буфер никогда не держит
// больше одного чанка аудио - память ограничена независимо от длины сессии.
//
// Все методы потокобезопасны. Медленный вызов модели выполняется без
// удержания мьютекса; результат чанка применяется только если поколение
// сессии не изменилось (Reset во время обработки отбрасывает результат).
type Session struct {
	model  Model
	config SessionConfig

	sampleRate     int
	chunkSamples   int
	overlapSamples int

	mu         sync.Mutex
	generation uint64
	recording  bool

	buffer             []float32
	results            []Segment
	totalProcessedMs   int64
	chunkIndex         int
	prevOverlap        []Segment
	lastCommittedEndMs int64
	rec                reconciler
}

// NewSession создаёт сессию диаризации поверх внешней модели
func NewSession(model Model, config SessionConfig) *Session {
	if config.ChunkDurationSec <= 0 {
		config.ChunkDurationSec = DefaultChunkDurationSec
	}
	if config.OverlapDurationSec <= 0 {
		config.OverlapDurationSec = DefaultOverlapDurationSec
	}

	rate := model.SampleRate()
	return &Session{
		model:          model,
		config:         config,
		sampleRate:     rate,
		chunkSamples:   config.ChunkDurationSec * rate,
		overlapSamples: config.OverlapDurationSec * rate,
		buffer:         make([]float32, 0, config.ChunkDurationSec*rate),
	}
}

// Start очищает состояние и переводит сессию в режим записи
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.recording = true
	log.Printf("Diarization: session started (chunk=%ds, overlap=%ds, rate=%d)",
		s.config.ChunkDurationSec, s.config.OverlapDurationSec, s.sampleRate)
}

// AppendPCM добавляет 16-bit PCM сэмплы в буфер. Вне записи вызов
// игнорируется. Когда буфер достигает длительности чанка, запускается
// обработка - потенциально блокирующая на секунды (вызов модели), поэтому
// Append должен выполняться на выделенной горутине-воркере.
func (s *Session) AppendPCM(samples []int16) {
	s.mu.Lock()

	if !s.recording {
		s.mu.Unlock()
		return
	}

	for _, v := range samples {
		s.buffer = append(s.buffer, float32(v)/32768.0)
	}

	if len(s.buffer) < s.chunkSamples {
		s.mu.Unlock()
		return
	}

	// Порог достигнут - обрабатываем чанк (разблокирует мьютекс на время
	// вызова модели)
	if err := s.processChunkLocked(); err != nil {
		// Чанк отброшен, буфер сохранён - повторим на следующем пороге
		log.Printf("Diarization: chunk %d failed, will retry at next threshold: %v", s.chunkIndex, err)
		if s.config.OnChunkError != nil {
			s.config.OnChunkError(err)
		}
	}
	s.mu.Unlock()
}

// processChunkLocked обрабатывает текущий буфер как один чанк.
// Вызывается с захваченным мьютексом; отпускает его на время вызова модели.
// При ошибке модели буфер не очищается и состояние не двигается.
func (s *Session) processChunkLocked() error {
	if len(s.buffer) < s.sampleRate*minProcessSec {
		return nil // нечего обрабатывать
	}

	gen := s.generation
	chunkIdx := s.chunkIndex
	baseMs := s.totalProcessedMs

	buf := make([]float32, len(s.buffer))
	copy(buf, s.buffer)

	s.mu.Unlock()
	raw, err := s.runModel(buf, chunkIdx)
	s.mu.Lock()

	if s.generation != gen {
		// Сессия была сброшена во время обработки - результат устарел
		log.Printf("Diarization: discarding stale chunk %d result (session reset)", chunkIdx)
		return nil
	}
	if err != nil {
		return err
	}

	chunkMs := int64(len(buf)) * 1000 / int64(s.sampleRate)
	overlapWindowMs := int64(s.config.OverlapDurationSec) * 1000

	// Абсолютные таймстемпы сессии
	segments := make([]Segment, len(raw))
	for i, r := range raw {
		segments[i] = Segment{
			StartMs: baseMs + int64(r.StartSec*1000),
			EndMs:   baseMs + int64(r.EndSec*1000),
			Speaker: r.Speaker,
		}
	}

	// Сшиваем идентичности спикеров через зону перекрытия предыдущего чанка
	segments = s.rec.reconcile(segments, chunkIdx, s.prevOverlap, baseMs, baseMs+overlapWindowMs)

	// Коммитим сегменты до середины зоны перекрытия: всё после неё увидит
	// следующий чанк с полным контекстом и примет решение точнее
	advanceMs := chunkMs - overlapWindowMs
	if advanceMs < 0 {
		advanceMs = 0
	}
	overlapStartMs := baseMs + advanceMs
	cutoffMs := overlapStartMs + overlapWindowMs/2

	committed := 0
	for _, seg := range segments {
		if seg.EndMs <= cutoffMs {
			s.results = append(s.results, seg)
			committed++
		}
	}

	// Хвост чанка - вход реконсиляции следующего чанка. Сегмент, пересекающий
	// середину зоны, попадает и в коммит и сюда; дубликат разрешится при
	// финализации через lastCommittedEndMs.
	s.prevOverlap = s.prevOverlap[:0]
	for _, seg := range segments {
		if seg.StartMs >= overlapStartMs {
			s.prevOverlap = append(s.prevOverlap, seg)
		}
	}

	s.totalProcessedMs = baseMs + advanceMs
	s.lastCommittedEndMs = cutoffMs
	s.chunkIndex++

	// Оставляем в буфере только хвост перекрытия. Появившиеся за время
	// обработки сэмплы (после конца чанка) сохраняются.
	cut := len(buf) - s.overlapSamples
	if cut > 0 {
		s.buffer = append(s.buffer[:0], s.buffer[cut:]...)
	}

	log.Printf("Diarization: chunk %d done: %d segments, %d committed, processed=%dms, buffer=%d samples",
		chunkIdx, len(segments), committed, s.totalProcessedMs, len(s.buffer))

	return nil
}

// runModel вызывает внешнюю модель; при наличии VAD тихий чанк пропускается
// без дорогого вызова (эквивалент пустого результата модели)
func (s *Session) runModel(buf []float32, chunkIdx int) ([]RawSegment, error) {
	if s.config.VAD != nil {
		hasSpeech, err := s.config.VAD.HasSpeech(buf)
		if err != nil {
			log.Printf("Diarization: VAD failed, processing chunk anyway: %v", err)
		} else if !hasSpeech {
			log.Printf("Diarization: chunk %d has no speech, skipping model call", chunkIdx)
			return nil, nil
		}
	}

	started := time.Now()
	raw, err := s.model.Process(buf)
	if err != nil {
		return nil, fmt.Errorf("model process failed: %w", err)
	}
	log.Printf("Diarization: model processed %.1fs audio in %.2fs (chunk %d)",
		float64(len(buf))/float64(s.sampleRate), time.Since(started).Seconds(), chunkIdx)
	return raw, nil
}

// Stop финализирует сессию: прогоняет остаток буфера последним чанком,
// сортирует и возвращает итоговый список сегментов
func (s *Session) Stop() ([]Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return nil, fmt.Errorf("session not recording")
	}
	s.recording = false

	var finalErr error
	if len(s.buffer) >= s.sampleRate*minProcessSec {
		finalErr = s.finalizeChunkLocked()
	}

	s.buffer = s.buffer[:0]
	s.prevOverlap = nil

	// Сегмент зоны перекрытия чанка N может закоммититься чуть позже ранних
	// коммитов чанка N+1 - финальная сортировка обязательна
	sortSegments(s.results)

	result := make([]Segment, len(s.results))
	copy(result, s.results)

	log.Printf("Diarization: session finalized: %d segments, %d speakers, %dms committed",
		len(result), countSpeakers(result), s.lastCommittedEndMs)

	return result, finalErr
}

// finalizeChunkLocked прогоняет остаток буфера последним чанком и добавляет
// его сегменты с учётом границы последнего коммита
func (s *Session) finalizeChunkLocked() error {
	gen := s.generation
	chunkIdx := s.chunkIndex
	baseMs := s.totalProcessedMs

	buf := make([]float32, len(s.buffer))
	copy(buf, s.buffer)

	s.mu.Unlock()
	raw, err := s.runModel(buf, chunkIdx)
	s.mu.Lock()

	if s.generation != gen {
		log.Printf("Diarization: discarding stale final chunk result (session reset)")
		return nil
	}
	if err != nil {
		return err
	}

	overlapWindowMs := int64(s.config.OverlapDurationSec) * 1000

	segments := make([]Segment, len(raw))
	for i, r := range raw {
		segments[i] = Segment{
			StartMs: baseMs + int64(r.StartSec*1000),
			EndMs:   baseMs + int64(r.EndSec*1000),
			Speaker: r.Speaker,
		}
	}

	segments = s.rec.reconcile(segments, chunkIdx, s.prevOverlap, baseMs, baseMs+overlapWindowMs)

	if chunkIdx == 0 {
		// Сессия короче одного чанка - ничего не коммитилось, берём всё
		s.results = append(s.results, segments...)
	} else {
		// Берём только то, что ещё не закоммичено (с допуском на границе)
		boundary := s.lastCommittedEndMs - finalizeToleranceMs
		for _, seg := range segments {
			if seg.StartMs >= boundary {
				s.results = append(s.results, seg)
			}
		}
	}

	chunkMs := int64(len(buf)) * 1000 / int64(s.sampleRate)
	s.totalProcessedMs = baseMs + chunkMs
	s.chunkIndex++

	return nil
}

// ForceFinalize прогоняет диаризацию по требованию, не завершая сессию:
// возвращает снимок "как если бы сессия закончилась сейчас". Состояние
// пайплайна не изменяется - следующий чанк обработается как обычно.
func (s *Session) ForceFinalize() ([]Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return nil, fmt.Errorf("session not recording")
	}

	snapshot := make([]Segment, len(s.results))
	copy(snapshot, s.results)

	if len(s.buffer) < s.sampleRate*minProcessSec {
		sortSegments(snapshot)
		return snapshot, nil
	}

	gen := s.generation
	chunkIdx := s.chunkIndex
	baseMs := s.totalProcessedMs
	prevOverlap := make([]Segment, len(s.prevOverlap))
	copy(prevOverlap, s.prevOverlap)
	boundary := s.lastCommittedEndMs - finalizeToleranceMs

	buf := make([]float32, len(s.buffer))
	copy(buf, s.buffer)

	s.mu.Unlock()
	raw, err := s.runModel(buf, chunkIdx)
	s.mu.Lock()

	if s.generation != gen {
		return nil, fmt.Errorf("session reset during force finalize")
	}
	if err != nil {
		return nil, err
	}

	segments := make([]Segment, len(raw))
	for i, r := range raw {
		segments[i] = Segment{
			StartMs: baseMs + int64(r.StartSec*1000),
			EndMs:   baseMs + int64(r.EndSec*1000),
			Speaker: r.Speaker,
		}
	}

	// Копия реконсайлера: предварительная разметка не должна расходовать
	// глобальные ID реальной сессии
	recCopy := s.rec
	overlapWindowMs := int64(s.config.OverlapDurationSec) * 1000
	segments = recCopy.reconcile(segments, chunkIdx, prevOverlap, baseMs, baseMs+overlapWindowMs)

	if chunkIdx == 0 {
		snapshot = append(snapshot, segments...)
	} else {
		for _, seg := range segments {
			if seg.StartMs >= boundary {
				snapshot = append(snapshot, seg)
			}
		}
	}

	sortSegments(snapshot)
	return snapshot, nil
}

// Reset отбрасывает всё состояние сессии. Безопасен во время обработки
// чанка: результат обрабатываемого чанка будет отброшен по поколению.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	log.Printf("Diarization: session reset")
}

func (s *Session) resetLocked() {
	s.generation++
	s.recording = false
	s.buffer = s.buffer[:0]
	s.results = s.results[:0]
	s.totalProcessedMs = 0
	s.chunkIndex = 0
	s.prevOverlap = nil
	s.lastCommittedEndMs = 0
	s.rec.reset()
}

// Recording проверяет идёт ли запись
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// BufferedSamples возвращает текущий размер аудио буфера в сэмплах
func (s *Session) BufferedSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// TotalProcessedMs возвращает абсолютное время, закоммиченное пайплайном
// (без хвоста перекрытия, который ещё лежит в буфере)
func (s *Session) TotalProcessedMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalProcessedMs
}

// ChunkIndex возвращает количество обработанных чанков
func (s *Session) ChunkIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkIndex
}

// SampleRate возвращает частоту дискретизации сессии
func (s *Session) SampleRate() int {
	return s.sampleRate
}
