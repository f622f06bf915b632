package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Lingelo/VoxTape-sub000/audio"
	"github.com/Lingelo/VoxTape-sub000/diarize"
	"github.com/Lingelo/VoxTape-sub000/internal/config"
	"github.com/Lingelo/VoxTape-sub000/worker"
)

var errNoCapture = errors.New("no capture device configured")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stopTimeout ограничивает ожидание финального чанка при stop_session
const stopTimeout = 60 * time.Second

type Server struct {
	Config  *config.Config
	Worker  *worker.Worker
	Capture *audio.Capture // nil если захват на стороне сервера недоступен

	clients map[*websocket.Conn]bool
	mu      sync.Mutex

	micMu   sync.Mutex
	micStop chan struct{}
}

func NewServer(cfg *config.Config, wrk *worker.Worker, capture *audio.Capture) *Server {
	s := &Server{
		Config:  cfg,
		Worker:  wrk,
		Capture: capture,
		clients: make(map[*websocket.Conn]bool),
	}
	s.setupCallbacks()
	return s
}

func (s *Server) Start() {
	http.HandleFunc("/ws", s.handleWebSocket)

	go s.startGRPCServer()

	log.Printf("Diarization worker listening on :%s", s.Config.Port)
	if err := http.ListenAndServe(":"+s.Config.Port, nil); err != nil {
		log.Fatal("ListenAndServe:", err)
	}
}

func (s *Server) setupCallbacks() {
	// Результаты force_finalize и stop уходят всем подключённым клиентам
	s.Worker.OnResult = func(sessionID string, segments []diarize.Segment, stats []diarize.SpeakerStats) {
		s.broadcast(Message{
			Type:      "diarization_result",
			SessionID: sessionID,
			Segments:  segments,
			Stats:     stats,
		})
	}

	s.Worker.OnError = func(sessionID string, message string) {
		s.broadcast(Message{
			Type:      "diarization_error",
			SessionID: sessionID,
			Error:     message,
		})
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.clients {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("Write error: %v", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade:", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			log.Println("Read:", err)
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			// Бинарный фрейм = 16-bit LE PCM
			s.Worker.AppendPCM(decodePCM16(data))
		case websocket.TextMessage:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				conn.WriteJSON(Message{Type: "error", Error: "invalid JSON: " + err.Error()})
				continue
			}
			s.processMessage(func(m Message) error { return conn.WriteJSON(m) }, msg)
		}
	}
}

// processMessage обрабатывает управляющее сообщение; reply отправляет ответ
// тому клиенту, который прислал запрос (WebSocket или gRPC stream)
func (s *Server) processMessage(reply func(Message) error, msg Message) {
	switch msg.Type {
	case "get_devices":
		if s.Capture == nil {
			reply(Message{Type: "error", Error: "server-side capture is not available"})
			return
		}
		devices, err := s.Capture.ListDevices()
		if err != nil {
			reply(Message{Type: "error", Error: err.Error()})
			return
		}
		reply(Message{Type: "devices", Devices: devices})

	case "start_session":
		sessionID, err := s.Worker.Start()
		if err != nil {
			reply(Message{Type: "error", Error: err.Error()})
			return
		}

		if msg.UseMic {
			if err := s.startMicPump(); err != nil {
				log.Printf("start_session: mic capture unavailable: %v", err)
				reply(Message{Type: "error", Error: "mic capture unavailable: " + err.Error(), SessionID: sessionID})
			}
		}

		reply(Message{Type: "session_started", SessionID: sessionID})

	case "append_pcm":
		// Путь для gRPC клиентов: PCM внутри JSON сообщения
		if len(msg.PCM) > 0 {
			s.Worker.AppendPCM(decodePCM16(msg.PCM))
		}

	case "stop_session":
		s.stopMicPump()

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		segments, err := s.Worker.Stop(ctx)
		if err != nil {
			reply(Message{Type: "error", Error: err.Error()})
			return
		}
		reply(Message{
			Type:      "session_stopped",
			SessionID: s.Worker.SessionID(),
			Segments:  segments,
		})

	case "force_finalize":
		// Результат придёт всем клиентам как diarization_result
		s.Worker.ForceFinalize()

	case "reset_session":
		s.stopMicPump()
		s.Worker.Reset()
		reply(Message{Type: "session_reset", SessionID: s.Worker.SessionID()})

	case "get_status":
		reply(Message{
			Type:             "status",
			SessionID:        s.Worker.SessionID(),
			Recording:        s.Worker.Recording(),
			BufferedMs:       s.Worker.BufferedMs(),
			TotalProcessedMs: s.Worker.TotalProcessedMs(),
			ChunkIndex:       s.Worker.ChunkIndex(),
		})

	default:
		reply(Message{Type: "error", Error: "unknown message type: " + msg.Type})
	}
}

// startMicPump запускает серверный захват микрофона и качает PCM в воркер
func (s *Server) startMicPump() error {
	if s.Capture == nil {
		return errNoCapture
	}

	s.micMu.Lock()
	defer s.micMu.Unlock()

	if s.micStop != nil {
		return nil // уже качаем
	}

	s.Capture.ClearBuffers()
	if err := s.Capture.Start(); err != nil {
		return err
	}

	stop := make(chan struct{})
	s.micStop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case samples := <-s.Capture.Data():
				s.Worker.AppendPCM(samples)
			}
		}
	}()

	return nil
}

func (s *Server) stopMicPump() {
	s.micMu.Lock()
	defer s.micMu.Unlock()

	if s.micStop == nil {
		return
	}
	close(s.micStop)
	s.micStop = nil
	s.Capture.Stop()
}

// decodePCM16 разбирает little-endian 16-bit PCM
func decodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
