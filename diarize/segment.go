// Package diarize реализует инкрементальную диаризацию спикеров для длинных
// сессий записи: скользящие чанки, сшивание идентичностей спикеров через зону
// перекрытия и накопление итогового списка сегментов с ограниченной памятью.
package diarize

import "sort"

// RawSegment сегмент в том виде, как его возвращает акустическая модель:
// времена в секундах относительно начала чанка, локальный ID спикера.
type RawSegment struct {
	StartSec float64
	EndSec   float64
	Speaker  int
}

// Segment итоговый сегмент диаризации с абсолютными таймстемпами сессии
// и глобальным (стабильным в рамках сессии) ID спикера.
type Segment struct {
	StartMs int64 `json:"startMs"`
	EndMs   int64 `json:"endMs"`
	Speaker int   `json:"speaker"`
}

// DurationMs возвращает длительность сегмента в миллисекундах.
func (s Segment) DurationMs() int64 {
	return s.EndMs - s.StartMs
}

// overlapMs вычисляет длительность перекрытия двух сегментов в миллисекундах.
// Возвращает 0 если сегменты не пересекаются.
func overlapMs(a, b Segment) int64 {
	start := a.StartMs
	if b.StartMs > start {
		start = b.StartMs
	}
	end := a.EndMs
	if b.EndMs < end {
		end = b.EndMs
	}
	if end <= start {
		return 0
	}
	return end - start
}

// intersectsZone проверяет пересекается ли сегмент с зоной [zoneStart, zoneEnd).
func intersectsZone(s Segment, zoneStartMs, zoneEndMs int64) bool {
	return s.StartMs < zoneEndMs && s.EndMs > zoneStartMs
}

// sortSegments сортирует сегменты по времени начала (стабильно).
func sortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartMs < segments[j].StartMs
	})
}

// countSpeakers подсчитывает количество уникальных спикеров
func countSpeakers(segments []Segment) int {
	speakers := make(map[int]bool)
	for _, seg := range segments {
		speakers[seg.Speaker] = true
	}
	return len(speakers)
}
