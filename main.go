package main

import (
	"log"

	"github.com/Lingelo/VoxTape-sub000/audio"
	"github.com/Lingelo/VoxTape-sub000/diarize"
	"github.com/Lingelo/VoxTape-sub000/internal/api"
	"github.com/Lingelo/VoxTape-sub000/internal/config"
	"github.com/Lingelo/VoxTape-sub000/worker"
)

func main() {
	log.Println("VoxTape diarization worker starting...")

	cfg := config.Load()
	log.Printf("Segmentation model: %s", cfg.SegmentationModelPath)
	log.Printf("Embedding model: %s", cfg.EmbeddingModelPath)
	log.Printf("Data directory: %s", cfg.DataDir)

	modelCfg := diarize.DefaultSherpaModelConfig(cfg.SegmentationModelPath, cfg.EmbeddingModelPath)
	modelCfg.Provider = cfg.Provider
	modelCfg.NumThreads = cfg.NumThreads

	model, err := diarize.NewSherpaModel(modelCfg)
	if err != nil {
		log.Fatalf("Failed to load diarization model: %v", err)
	}
	defer model.Close()

	// VAD опционален: без модели работаем без заслонки
	var vad *diarize.SileroVAD
	if cfg.VADModelPath != "" {
		vad, err = diarize.NewSileroVAD(diarize.DefaultSileroVADConfig(cfg.VADModelPath))
		if err != nil {
			log.Printf("Warning: VAD unavailable, silence gate disabled: %v", err)
			vad = nil
		} else {
			defer vad.Close()
		}
	}

	sessionCfg := diarize.DefaultSessionConfig()
	sessionCfg.ChunkDurationSec = cfg.ChunkSec
	sessionCfg.OverlapDurationSec = cfg.OverlapSec
	sessionCfg.VAD = vad

	// Ошибки чанков уходят клиентам через колбэк воркера
	var wrk *worker.Worker
	sessionCfg.OnChunkError = func(err error) {
		if wrk != nil && wrk.OnError != nil {
			wrk.OnError(wrk.SessionID(), err.Error())
		}
	}

	session := diarize.NewSession(model, sessionCfg)

	workerCfg := worker.DefaultConfig()
	workerCfg.DataDir = cfg.DataDir
	wrk = worker.New(session, workerCfg)
	defer wrk.Shutdown()

	// Серверный захват микрофона опционален: без аудио устройств хост
	// по-прежнему может слать PCM по WebSocket/gRPC
	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate: model.SampleRate(),
		DeviceName: cfg.MicDevice,
	})
	if err != nil {
		log.Printf("Warning: audio capture unavailable: %v", err)
		capture = nil
	} else {
		defer capture.Close()
	}

	server := api.NewServer(cfg, wrk, capture)
	server.Start()
}
