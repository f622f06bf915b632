// Живой тест диаризации с микрофона: запись идёт до Ctrl+C, затем
// печатается итоговый список сегментов.
// Запуск: go run ./cmd/testmic -seg seg.onnx -emb emb.onnx

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lingelo/VoxTape-sub000/audio"
	"github.com/Lingelo/VoxTape-sub000/diarize"
	"github.com/Lingelo/VoxTape-sub000/worker"
)

func main() {
	segModel := flag.String("seg", "models/pyannote-segmentation.onnx", "Segmentation model path")
	embModel := flag.String("emb", "models/speaker-embedding.onnx", "Embedding model path")
	device := flag.String("mic", "", "Microphone device name")
	chunkSec := flag.Int("chunk", 180, "Chunk duration in seconds")
	flag.Parse()

	log.Println("=== Тест диаризации с микрофона ===")
	log.Println("Нажмите Ctrl+C для остановки...")

	model, err := diarize.NewSherpaModel(diarize.DefaultSherpaModelConfig(*segModel, *embModel))
	if err != nil {
		log.Fatalf("Ошибка загрузки модели: %v", err)
	}
	defer model.Close()

	sessionCfg := diarize.DefaultSessionConfig()
	sessionCfg.ChunkDurationSec = *chunkSec
	session := diarize.NewSession(model, sessionCfg)

	wrk := worker.New(session, worker.DefaultConfig())
	defer wrk.Shutdown()

	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate: model.SampleRate(),
		DeviceName: *device,
	})
	if err != nil {
		log.Fatalf("Ошибка инициализации захвата: %v", err)
	}
	defer capture.Close()

	if _, err := wrk.Start(); err != nil {
		log.Fatalf("Ошибка старта сессии: %v", err)
	}
	if err := capture.Start(); err != nil {
		log.Fatalf("Ошибка запуска микрофона: %v", err)
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	started := time.Now()
loop:
	for {
		select {
		case <-stopChan:
			break loop
		case samples := <-capture.Data():
			wrk.AppendPCM(samples)
		}
	}

	log.Println("\nОстановка записи...")
	capture.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	segments, err := wrk.Stop(ctx)
	if err != nil {
		log.Printf("Предупреждение: %v", err)
	}

	for _, seg := range segments {
		fmt.Printf("[%8.2f - %8.2f] speaker %d\n",
			float64(seg.StartMs)/1000, float64(seg.EndMs)/1000, seg.Speaker)
	}
	log.Printf("Готово: %.1f секунд записи, %d сегментов",
		time.Since(started).Seconds(), len(segments))
}
