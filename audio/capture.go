// Package audio отвечает за ввод/вывод звука: захват с микрофона,
// чтение WAV/MP3 файлов и запись дампа сессии.
package audio

import (
	"encoding/binary"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// Device представляет аудио устройство захвата
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CaptureConfig конфигурация захвата с микрофона
type CaptureConfig struct {
	SampleRate int // Частота дискретизации (модель диаризации ожидает 16kHz)
	DeviceName string
}

// DefaultCaptureConfig возвращает конфигурацию захвата по умолчанию
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate: 16000,
	}
}

// Capture захват моно 16-bit PCM с микрофона
type Capture struct {
	ctx    *malgo.AllocatedContext
	config CaptureConfig

	device   *malgo.Device
	deviceID *malgo.DeviceID

	dataChan chan []int16
	mu       sync.Mutex
	running  bool
}

func NewCapture(config CaptureConfig) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	c := &Capture{
		ctx:      ctx,
		config:   config,
		dataChan: make(chan []int16, 1000), // Большой буфер чтобы не терять данные
	}

	if config.DeviceName != "" {
		id, err := c.findDeviceByName(config.DeviceName)
		if err != nil {
			ctx.Uninit()
			ctx.Free()
			return nil, err
		}
		c.deviceID = id
	}

	return c, nil
}

// ListDevices возвращает список доступных устройств захвата
func (c *Capture) ListDevices() ([]Device, error) {
	captureDevices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	var devices []Device
	for _, dev := range captureDevices {
		devices = append(devices, Device{
			ID:   deviceIDToString(dev.ID),
			Name: dev.Name(),
		})
	}
	return devices, nil
}

// findDeviceByName ищет устройство по имени (частичное совпадение)
func (c *Capture) findDeviceByName(name string) (*malgo.DeviceID, error) {
	devices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name()), nameLower) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// Start начинает захват
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("already running")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.config.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if c.deviceID != nil {
		deviceConfig.Capture.DeviceID = c.deviceID.Pointer()
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		sampleCount := int(framecount)
		if len(pInputSamples) != sampleCount*2 {
			return
		}

		samples := make([]int16, sampleCount)
		for i := 0; i < sampleCount; i++ {
			samples[i] = int16(binary.LittleEndian.Uint16(pInputSamples[i*2:]))
		}

		// Неблокирующая отправка: потребитель медленнее устройства только
		// при переполненном буфере, тогда буфер отбрасывается
		select {
		case c.dataChan <- samples:
		default:
			log.Printf("Capture: data channel full, dropping %d samples", sampleCount)
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return fmt.Errorf("failed to init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.device = device
	c.running = true
	log.Println("Microphone capture started")
	return nil
}

// Stop останавливает захват
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.running = false
	log.Println("Microphone capture stopped")
	return nil
}

// Data возвращает канал с захваченными PCM буферами
func (c *Capture) Data() <-chan []int16 {
	return c.dataChan
}

// ClearBuffers очищает накопленные данные перед началом новой записи
func (c *Capture) ClearBuffers() {
	for {
		select {
		case <-c.dataChan:
		default:
			return
		}
	}
}

// Close освобождает ресурсы
func (c *Capture) Close() {
	c.Stop()
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx.Free()
	}
}

func deviceIDToString(id malgo.DeviceID) string {
	var result strings.Builder
	for _, b := range id[:32] {
		if b == 0 {
			break
		}
		result.WriteByte(b)
	}
	return result.String()
}
