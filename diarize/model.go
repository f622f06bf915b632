package diarize

// Model внешняя акустическая модель диаризации (сегментация + эмбеддинги +
// кластеризация). Process - синхронный и дорогой вызов: на чанке в несколько
// минут может работать секунды или десятки секунд.
type Model interface {
	// Process обрабатывает аудио (float32, mono, SampleRate) и возвращает
	// сегменты с локальными для этого вызова ID спикеров.
	Process(samples []float32) ([]RawSegment, error)

	// SampleRate возвращает ожидаемую частоту дискретизации.
	SampleRate() int

	// Close освобождает ресурсы модели.
	Close()
}
