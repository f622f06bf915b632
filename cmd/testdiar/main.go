// Офлайн диаризация аудио файла (WAV или MP3) через тот же пайплайн,
// что и живая сессия: файл скармливается блоками по 100мс.
// Запуск: go run ./cmd/testdiar -seg seg.onnx -emb emb.onnx file.wav

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lingelo/VoxTape-sub000/audio"
	"github.com/Lingelo/VoxTape-sub000/diarize"
)

func main() {
	segModel := flag.String("seg", "models/pyannote-segmentation.onnx", "Segmentation model path")
	embModel := flag.String("emb", "models/speaker-embedding.onnx", "Embedding model path")
	vadModel := flag.String("vad", "", "Silero VAD model path (optional)")
	provider := flag.String("provider", "auto", "ONNX provider: auto, cpu, coreml, cuda")
	chunkSec := flag.Int("chunk", 180, "Chunk duration in seconds")
	overlapSec := flag.Int("overlap", 30, "Overlap duration in seconds")
	jsonOut := flag.Bool("json", false, "Print segments as JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: testdiar [flags] <file.wav|file.mp3>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)

	log.Println("=== Офлайн диаризация ===")
	log.Printf("Входной файл: %s", inputPath)

	modelCfg := diarize.DefaultSherpaModelConfig(*segModel, *embModel)
	modelCfg.Provider = *provider
	model, err := diarize.NewSherpaModel(modelCfg)
	if err != nil {
		log.Fatalf("Ошибка загрузки модели: %v", err)
	}
	defer model.Close()

	var vad *diarize.SileroVAD
	if *vadModel != "" {
		vad, err = diarize.NewSileroVAD(diarize.DefaultSileroVADConfig(*vadModel))
		if err != nil {
			log.Fatalf("Ошибка загрузки VAD: %v", err)
		}
		defer vad.Close()
	}

	// Читаем файл в моно PCM с частотой модели
	var samples []int16
	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".wav":
		samples, err = audio.ReadWAV(inputPath, model.SampleRate())
	case ".mp3":
		samples, err = audio.ReadMP3(inputPath, model.SampleRate())
	default:
		log.Fatalf("Неподдерживаемый формат: %s (нужен .wav или .mp3)", inputPath)
	}
	if err != nil {
		log.Fatalf("Ошибка чтения файла: %v", err)
	}
	log.Printf("Прочитано %.1f секунд аудио", float64(len(samples))/float64(model.SampleRate()))

	sessionCfg := diarize.DefaultSessionConfig()
	sessionCfg.ChunkDurationSec = *chunkSec
	sessionCfg.OverlapDurationSec = *overlapSec
	sessionCfg.VAD = vad

	session := diarize.NewSession(model, sessionCfg)
	session.Start()

	// Скармливаем блоками по 100мс, как это делает живой захват
	block := model.SampleRate() / 10
	for i := 0; i < len(samples); i += block {
		end := i + block
		if end > len(samples) {
			end = len(samples)
		}
		session.AppendPCM(samples[i:end])
	}

	segments, err := session.Stop()
	if err != nil {
		log.Printf("Предупреждение: финальный чанк не обработан: %v", err)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(segments, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, seg := range segments {
			fmt.Printf("[%8.2f - %8.2f] speaker %d\n",
				float64(seg.StartMs)/1000, float64(seg.EndMs)/1000, seg.Speaker)
		}
	}

	stats := diarize.ComputeStats(segments)
	diarize.LogStats(stats)
	log.Printf("Готово: %d сегментов", len(segments))
}
