package config

import (
	"flag"
	"os"
	"path/filepath"
)

type Config struct {
	SegmentationModelPath string
	EmbeddingModelPath    string
	VADModelPath          string
	Provider              string
	NumThreads            int

	ChunkSec   int
	OverlapSec int

	DataDir  string
	Port     string
	GRPCAddr string

	MicDevice string
}

func Load() *Config {
	segModel := flag.String("segmentation-model", "models/pyannote-segmentation.onnx", "Path to pyannote segmentation model")
	embModel := flag.String("embedding-model", "models/speaker-embedding.onnx", "Path to speaker embedding model")
	vadModel := flag.String("vad-model", "", "Path to Silero VAD model (empty = VAD gate disabled)")
	provider := flag.String("provider", "auto", "ONNX provider: auto, cpu, coreml, cuda")
	threads := flag.Int("threads", 4, "Number of threads for model inference")
	chunkSec := flag.Int("chunk", 180, "Chunk duration in seconds")
	overlapSec := flag.Int("overlap", 30, "Overlap duration in seconds")
	dataDir := flag.String("data", "data/sessions", "Directory for session data (empty = no session dumps)")
	port := flag.String("port", "8090", "WebSocket server port")
	grpcAddr := flag.String("grpc", "", "gRPC listen address (unix:/path, npipe:\\\\.\\pipe\\name or host:port)")
	micDevice := flag.String("mic", "", "Microphone device name for server-side capture")
	flag.Parse()

	if *dataDir != "" {
		if err := os.MkdirAll(*dataDir, 0o755); err != nil {
			// Дамп сессии опционален, работаем без него
			*dataDir = ""
		}
	}

	return &Config{
		SegmentationModelPath: filepath.Clean(*segModel),
		EmbeddingModelPath:    filepath.Clean(*embModel),
		VADModelPath:          *vadModel,
		Provider:              *provider,
		NumThreads:            *threads,
		ChunkSec:              *chunkSec,
		OverlapSec:            *overlapSec,
		DataDir:               *dataDir,
		Port:                  *port,
		GRPCAddr:              *grpcAddr,
		MicDevice:             *micDevice,
	}
}
