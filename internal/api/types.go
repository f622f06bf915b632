package api

import (
	"github.com/Lingelo/VoxTape-sub000/audio"
	"github.com/Lingelo/VoxTape-sub000/diarize"
)

// Message структура сообщения управляющего канала (WebSocket и gRPC stream).
// PCM аудио по WebSocket передаётся бинарными фреймами (16-bit LE PCM),
// по gRPC - полем PCM.
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`

	// Start Session Parameters
	MicDevice string `json:"micDevice,omitempty"`
	UseMic    bool   `json:"useMic,omitempty"` // Захватывать микрофон на стороне сервера

	// PCM аудио для append_pcm по gRPC (16-bit LE, base64 в JSON)
	PCM []byte `json:"pcm,omitempty"`

	// Responses
	SessionID string                 `json:"sessionId,omitempty"`
	Segments  []diarize.Segment      `json:"segments,omitempty"`
	Stats     []diarize.SpeakerStats `json:"stats,omitempty"`
	Error     string                 `json:"error,omitempty"`

	// Status
	Recording        bool  `json:"recording,omitempty"`
	BufferedMs       int64 `json:"bufferedMs,omitempty"`
	TotalProcessedMs int64 `json:"totalProcessedMs,omitempty"`
	ChunkIndex       int   `json:"chunkIndex,omitempty"`

	// Devices
	Devices []audio.Device `json:"devices,omitempty"`
}
