// Package worker оборачивает сессию диаризации в актора с каналом команд:
// медленный вызов модели никогда не блокирует поток, принимающий аудио от
// хоста. Одновременно обрабатывается не более одного чанка.
package worker

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Lingelo/VoxTape-sub000/audio"
	"github.com/Lingelo/VoxTape-sub000/diarize"
)

// ResultCallback вызывается с итоговыми сегментами сессии (stop или
// force-finalize). Сегменты отсортированы по времени начала.
type ResultCallback func(sessionID string, segments []diarize.Segment, stats []diarize.SpeakerStats)

// ErrorCallback вызывается при ошибке обработки чанка. Ошибки не фатальны:
// запись продолжается, диаризация для упавшего чанка повторится позже.
type ErrorCallback func(sessionID string, message string)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdForceFinalize
	cmdReset
)

type stopResult struct {
	segments []diarize.Segment
	err      error
}

type command struct {
	kind      commandKind
	replyID   chan string
	replyStop chan stopResult
}

// Config конфигурация воркера
type Config struct {
	// DataDir директория для дампов сессий (full.mp3); пустая = без дампа
	DataDir string

	// PCMQueueSize размер очереди входящих PCM буферов. При переполнении
	// (модель обрабатывает чанк дольше, чем копится очередь) новые буферы
	// отбрасываются с логом.
	PCMQueueSize int
}

// DefaultConfig возвращает конфигурацию воркера по умолчанию
func DefaultConfig() Config {
	return Config{
		PCMQueueSize: 256,
	}
}

// Worker выделенная горутина, владеющая сессией диаризации
type Worker struct {
	session *diarize.Session
	config  Config

	OnResult ResultCallback
	OnError  ErrorCallback

	cmds chan command
	pcm  chan []int16
	quit chan struct{}

	mu        sync.Mutex
	sessionID string
	closed    bool

	// Дамп сессии, принадлежит горутине-воркеру
	dump *audio.MP3Writer
}

// New создаёт воркер и запускает его горутину
func New(session *diarize.Session, config Config) *Worker {
	if config.PCMQueueSize <= 0 {
		config.PCMQueueSize = 256
	}

	w := &Worker{
		session: session,
		config:  config,
		cmds:    make(chan command),
		pcm:     make(chan []int16, config.PCMQueueSize),
		quit:    make(chan struct{}),
	}

	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.quit:
			w.closeDump()
			return
		case cmd := <-w.cmds:
			w.handleCommand(cmd)
		case samples := <-w.pcm:
			if w.dump != nil {
				w.dump.WritePCM16(samples)
			}
			// Может блокироваться на секунды, когда порог чанка достигнут -
			// на это время очередь w.pcm принимает/отбрасывает новые буферы
			w.session.AppendPCM(samples)
		}
	}
}

func (w *Worker) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		id := uuid.New().String()
		w.mu.Lock()
		w.sessionID = id
		w.mu.Unlock()

		w.openDump(id)
		w.session.Start()
		log.Printf("Worker: session %s started", id)
		cmd.replyID <- id

	case cmdStop:
		// Сначала забираем всё, что успело попасть в очередь
		w.drainPCM()

		segments, err := w.session.Stop()
		w.closeDump()

		stats := diarize.ComputeStats(segments)
		diarize.LogStats(stats)

		if w.OnResult != nil {
			w.OnResult(w.SessionID(), segments, stats)
		}
		cmd.replyStop <- stopResult{segments: segments, err: err}

	case cmdForceFinalize:
		segments, err := w.session.ForceFinalize()
		if err != nil {
			log.Printf("Worker: force finalize failed: %v", err)
			if w.OnError != nil {
				w.OnError(w.SessionID(), err.Error())
			}
			return
		}
		if w.OnResult != nil {
			w.OnResult(w.SessionID(), segments, diarize.ComputeStats(segments))
		}

	case cmdReset:
		w.drainPCM()
		w.closeDump()
	}
}

// drainPCM скармливает сессии всё, что накопилось в очереди
func (w *Worker) drainPCM() {
	for {
		select {
		case samples := <-w.pcm:
			if w.dump != nil {
				w.dump.WritePCM16(samples)
			}
			w.session.AppendPCM(samples)
		default:
			return
		}
	}
}

// Start начинает новую сессию и возвращает её ID
func (w *Worker) Start() (string, error) {
	reply := make(chan string, 1)
	select {
	case w.cmds <- command{kind: cmdStart, replyID: reply}:
		return <-reply, nil
	case <-w.quit:
		return "", fmt.Errorf("worker is shut down")
	}
}

// AppendPCM передаёт воркеру буфер 16-bit PCM. Никогда не блокируется:
// при переполненной очереди (чанк в обработке) буфер отбрасывается.
func (w *Worker) AppendPCM(samples []int16) {
	buf := make([]int16, len(samples))
	copy(buf, samples)

	select {
	case w.pcm <- buf:
	default:
		log.Printf("Worker: PCM queue full, dropping %d samples", len(samples))
	}
}

// Stop завершает сессию и дожидается финального чанка (ограниченное
// ожидание: один вызов модели). Контекст позволяет хосту задать таймаут.
func (w *Worker) Stop(ctx context.Context) ([]diarize.Segment, error) {
	reply := make(chan stopResult, 1)
	select {
	case w.cmds <- command{kind: cmdStop, replyStop: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, fmt.Errorf("worker is shut down")
	}

	select {
	case res := <-reply:
		return res.segments, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ForceFinalize запускает диаризацию по текущему буферу, не завершая
// сессию; результат придёт через OnResult
func (w *Worker) ForceFinalize() {
	select {
	case w.cmds <- command{kind: cmdForceFinalize}:
	case <-w.quit:
	}
}

// Reset немедленно отбрасывает состояние сессии. Безопасен во время
// обработки чанка: результат обрабатываемого чанка будет отброшен.
func (w *Worker) Reset() {
	// Прямой вызов, не через очередь: сброс должен сработать даже когда
	// горутина воркера заблокирована вызовом модели
	w.session.Reset()

	select {
	case w.cmds <- command{kind: cmdReset}:
	case <-w.quit:
	}
}

// Shutdown останавливает воркер и отбрасывает всё состояние
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.session.Reset()
	close(w.quit)
	log.Printf("Worker: shut down")
}

// SessionID возвращает ID текущей (или последней) сессии
func (w *Worker) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Recording проверяет идёт ли запись
func (w *Worker) Recording() bool {
	return w.session.Recording()
}

// BufferedMs возвращает длительность необработанного аудио в буфере
func (w *Worker) BufferedMs() int64 {
	return int64(w.session.BufferedSamples()) * 1000 / int64(w.session.SampleRate())
}

// TotalProcessedMs возвращает сколько аудио уже зафиксировано
func (w *Worker) TotalProcessedMs() int64 {
	return w.session.TotalProcessedMs()
}

// ChunkIndex возвращает индекс следующего чанка
func (w *Worker) ChunkIndex() int {
	return w.session.ChunkIndex()
}

// openDump создаёт MP3 дамп сессии, если настроена директория данных
func (w *Worker) openDump(sessionID string) {
	if w.config.DataDir == "" {
		return
	}

	path := filepath.Join(w.config.DataDir, sessionID+".mp3")
	dump, err := audio.NewMP3Writer(path, w.session.SampleRate(), 1)
	if err != nil {
		log.Printf("Worker: failed to create session dump: %v", err)
		return
	}
	w.dump = dump
}

func (w *Worker) closeDump() {
	if w.dump != nil {
		w.dump.Close()
		w.dump = nil
	}
}
