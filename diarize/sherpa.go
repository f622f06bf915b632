package diarize

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SherpaModelConfig конфигурация sherpa-onnx модели диаризации
type SherpaModelConfig struct {
	SegmentationModelPath string  // Путь к модели сегментации (pyannote)
	EmbeddingModelPath    string  // Путь к модели эмбеддингов (wespeaker/3dspeaker)
	NumThreads            int     // Количество потоков
	ClusteringThreshold   float32 // Порог кластеризации (0.0-1.0, по умолчанию 0.5)
	MinDurationOn         float32 // Минимальная длительность речи (сек)
	MinDurationOff        float32 // Минимальная длительность паузы (сек)
	Provider              string  // ONNX provider: cpu, cuda, coreml, auto
}

// detectBestProvider определяет лучший provider для текущей платформы
func detectBestProvider() string {
	// На macOS с Apple Silicon предпочитаем CoreML
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "coreml"
	}
	// На Linux/Windows по умолчанию CPU (cuda включается явно)
	return "cpu"
}

// DefaultSherpaModelConfig возвращает конфигурацию по умолчанию
// с автоматическим определением лучшего provider для платформы
func DefaultSherpaModelConfig(segmentationPath, embeddingPath string) SherpaModelConfig {
	return SherpaModelConfig{
		SegmentationModelPath: segmentationPath,
		EmbeddingModelPath:    embeddingPath,
		NumThreads:            4,
		ClusteringThreshold:   0.5,
		MinDurationOn:         0.3,
		MinDurationOff:        0.5,
		Provider:              "auto",
	}
}

// SherpaModel реализует Model через sherpa-onnx OfflineSpeakerDiarization
type SherpaModel struct {
	config      SherpaModelConfig
	diarizer    *sherpa.OfflineSpeakerDiarization
	mu          sync.Mutex
	initialized bool
}

// NewSherpaModel создаёт модель диаризации на базе sherpa-onnx
func NewSherpaModel(config SherpaModelConfig) (*SherpaModel, error) {
	// Проверяем существование файлов моделей
	if _, err := os.Stat(config.SegmentationModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("segmentation model not found: %s", config.SegmentationModelPath)
	}
	if _, err := os.Stat(config.EmbeddingModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("embedding model not found: %s", config.EmbeddingModelPath)
	}

	provider := config.Provider
	if provider == "auto" || provider == "" {
		provider = detectBestProvider()
	}
	log.Printf("SherpaModel: using provider=%s (requested=%s)", provider, config.Provider)

	sherpaConfig := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: config.SegmentationModelPath,
			},
			NumThreads: config.NumThreads,
			Debug:      0,
			Provider:   provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      config.EmbeddingModelPath,
			NumThreads: config.NumThreads,
			Debug:      0,
			Provider:   provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1, // Автоматическое определение количества спикеров
			Threshold:   config.ClusteringThreshold,
		},
		MinDurationOn:  config.MinDurationOn,
		MinDurationOff: config.MinDurationOff,
	}

	diarizer := sherpa.NewOfflineSpeakerDiarization(sherpaConfig)
	if diarizer == nil {
		// Если аппаратный provider не сработал, пробуем CPU
		if provider != "cpu" {
			log.Printf("SherpaModel: %s provider failed, falling back to CPU", provider)
			sherpaConfig.Segmentation.Provider = "cpu"
			sherpaConfig.Embedding.Provider = "cpu"
			diarizer = sherpa.NewOfflineSpeakerDiarization(sherpaConfig)
			if diarizer == nil {
				return nil, fmt.Errorf("failed to create sherpa-onnx diarizer (tried %s and cpu)", provider)
			}
			provider = "cpu"
		} else {
			return nil, fmt.Errorf("failed to create sherpa-onnx diarizer")
		}
	}

	log.Printf("SherpaModel initialized: provider=%s, segmentation=%s, embedding=%s",
		provider, config.SegmentationModelPath, config.EmbeddingModelPath)

	config.Provider = provider

	return &SherpaModel{
		config:      config,
		diarizer:    diarizer,
		initialized: true,
	}, nil
}

// Process выполняет диаризацию чанка и возвращает сегменты с локальными
// (валидными только внутри этого вызова) ID спикеров.
// samples - аудио данные в формате float32, mono, SampleRate()
func (m *SherpaModel) Process(samples []float32) ([]RawSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("sherpa model not initialized")
	}

	if len(samples) == 0 {
		return nil, nil
	}

	segments := m.diarizer.Process(samples)
	if len(segments) == 0 {
		return nil, nil
	}

	result := make([]RawSegment, len(segments))
	for i, seg := range segments {
		result[i] = RawSegment{
			StartSec: float64(seg.Start),
			EndSec:   float64(seg.End),
			Speaker:  seg.Speaker,
		}
	}

	log.Printf("SherpaModel: found %d segments", len(result))
	return result, nil
}

// SampleRate возвращает ожидаемую частоту дискретизации (обычно 16kHz)
func (m *SherpaModel) SampleRate() int {
	if m.diarizer != nil {
		return m.diarizer.SampleRate()
	}
	return 16000
}

// Provider возвращает фактически используемый ONNX provider
func (m *SherpaModel) Provider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Provider
}

// Close освобождает ресурсы
func (m *SherpaModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.diarizer != nil {
		sherpa.DeleteOfflineSpeakerDiarization(m.diarizer)
		m.diarizer = nil
	}
	m.initialized = false
	log.Printf("SherpaModel closed")
}
