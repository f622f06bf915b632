package diarize

import (
	"fmt"
	"log"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SileroVADConfig конфигурация Silero VAD
type SileroVADConfig struct {
	ModelPath        string  // Путь к ONNX модели
	SampleRate       int     // Частота дискретизации (8000 или 16000)
	Threshold        float32 // Порог вероятности речи (0.0 - 1.0)
	MinSpeechWindows int     // Сколько окон с речью нужно, чтобы чанк считался не пустым
}

// DefaultSileroVADConfig возвращает конфигурацию по умолчанию
func DefaultSileroVADConfig(modelPath string) SileroVADConfig {
	return SileroVADConfig{
		ModelPath:        modelPath,
		SampleRate:       16000,
		Threshold:        0.5,
		MinSpeechWindows: 3, // ~96ms речи при 16kHz
	}
}

// SileroVAD детектор голосовой активности на базе Silero VAD.
// Используется как заслонка перед дорогим вызовом модели диаризации:
// чанк без речи пропускается целиком.
type SileroVAD struct {
	session *ort.DynamicAdvancedSession
	config  SileroVADConfig

	// LSTM состояние модели (сбрасывается перед каждым чанком)
	state []float32

	// Контекст - последние N сэмплов предыдущего окна
	// 64 сэмпла для 16kHz, 32 для 8kHz
	context []float32

	mu          sync.Mutex
	initialized bool
}

// ONNX Runtime глобальная инициализация
var (
	onnxInitialized bool
	onnxInitMu      sync.Mutex
)

func initONNXRuntime() error {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()

	if onnxInitialized {
		return nil
	}

	// Проверяем переменную окружения для пути к библиотеке
	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")

	if libPath == "" {
		searchPaths := []string{
			// В Resources директории приложения (для .app bundle)
			"../Resources/libonnxruntime.dylib",
			// Рядом с исполняемым файлом
			"./libonnxruntime.dylib",
			"./libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}

	if libPath != "" {
		log.Printf("Using ONNX Runtime library: %s", libPath)
		ort.SetSharedLibraryPath(libPath)
	} else {
		log.Println("ONNX Runtime library not found, VAD gate will not be available")
		return fmt.Errorf("ONNX Runtime library not found")
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}

	onnxInitialized = true
	log.Println("ONNX Runtime initialized successfully")
	return nil
}

// NewSileroVAD создаёт новый Silero VAD
func NewSileroVAD(config SileroVADConfig) (*SileroVAD, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}

	if config.SampleRate != 8000 && config.SampleRate != 16000 {
		return nil, fmt.Errorf("sample rate must be 8000 or 16000, got %d", config.SampleRate)
	}

	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	// Silero VAD inputs: input, state, sr
	// Silero VAD outputs: output, stateN
	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	// Размер контекста: 64 для 16kHz, 32 для 8kHz
	contextSize := 64
	if config.SampleRate == 8000 {
		contextSize = 32
	}

	vad := &SileroVAD{
		session:     session,
		config:      config,
		state:       make([]float32, 2*1*128), // [2, 1, 128] - h и c состояния LSTM
		context:     make([]float32, contextSize),
		initialized: true,
	}

	log.Printf("Silero VAD initialized: sample_rate=%d, threshold=%.2f", config.SampleRate, config.Threshold)
	return vad, nil
}

// windowSize возвращает размер окна модели: 512 сэмплов для 16kHz (32ms),
// 256 для 8kHz
func (v *SileroVAD) windowSize() int {
	if v.config.SampleRate == 16000 {
		return 512
	}
	return 256
}

// HasSpeech проверяет содержит ли аудио речь. Возвращает true как только
// набирается MinSpeechWindows окон с вероятностью выше порога - весь чанк
// прогонять не обязательно.
func (v *SileroVAD) HasSpeech(samples []float32) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return false, fmt.Errorf("Silero VAD not initialized")
	}

	v.resetStateLocked()

	windowSize := v.windowSize()
	speechWindows := 0

	for i := 0; i+windowSize <= len(samples); i += windowSize {
		prob, err := v.processWindowLocked(samples[i : i+windowSize])
		if err != nil {
			return false, err
		}
		if prob >= v.config.Threshold {
			speechWindows++
			if speechWindows >= v.config.MinSpeechWindows {
				return true, nil
			}
		}
	}

	return false, nil
}

// processWindowLocked прогоняет одно окно через модель и возвращает
// вероятность речи
func (v *SileroVAD) processWindowLocked(samples []float32) (float32, error) {
	contextSize := len(v.context)

	// Входной буфер: context + samples, [batch, context_size + window_size]
	inputData := make([]float32, contextSize+len(samples))
	copy(inputData[:contextSize], v.context)
	copy(inputData[contextSize:], samples)

	// Обновляем контекст для следующего окна
	copy(v.context, samples[len(samples)-contextSize:])

	inputShape := ort.NewShape(1, int64(len(inputData)))
	inputTensor, err := ort.NewTensor(inputShape, inputData)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// state: [2, batch, 128]
	stateShape := ort.NewShape(2, 1, 128)
	stateTensor, err := ort.NewTensor(stateShape, v.state)
	if err != nil {
		return 0, fmt.Errorf("failed to create state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	// sr: scalar (int64)
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(v.config.SampleRate)})
	if err != nil {
		return 0, fmt.Errorf("failed to create sr tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := v.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("failed to run inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	outputData := outputs[0].(*ort.Tensor[float32]).GetData()

	// Обновляем состояние LSTM
	copy(v.state, outputs[1].(*ort.Tensor[float32]).GetData())

	if len(outputData) > 0 {
		return outputData[0], nil
	}
	return 0, nil
}

// resetStateLocked сбрасывает LSTM состояние и контекст
func (v *SileroVAD) resetStateLocked() {
	for i := range v.state {
		v.state[i] = 0
	}
	for i := range v.context {
		v.context[i] = 0
	}
}

// Close освобождает ресурсы
func (v *SileroVAD) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
	v.initialized = false
}
