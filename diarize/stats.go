package diarize

import (
	"log"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SpeakerStats статистика по одному спикеру за сессию
type SpeakerStats struct {
	Speaker         int     `json:"speaker"`
	SegmentCount    int     `json:"segmentCount"`
	TotalMs         int64   `json:"totalMs"`
	Share           float64 `json:"share"`           // Доля от общего времени речи
	MeanSegmentMs   float64 `json:"meanSegmentMs"`   // Средняя длительность сегмента
	StdDevSegmentMs float64 `json:"stdDevSegmentMs"` // Разброс длительностей
}

// ComputeStats вычисляет по финальному списку сегментов время речи каждого
// спикера и статистику длительностей его реплик
func ComputeStats(segments []Segment) []SpeakerStats {
	if len(segments) == 0 {
		return nil
	}

	durations := make(map[int][]float64)
	var totalMs int64
	for _, seg := range segments {
		d := seg.DurationMs()
		durations[seg.Speaker] = append(durations[seg.Speaker], float64(d))
		totalMs += d
	}

	result := make([]SpeakerStats, 0, len(durations))
	for speaker, ds := range durations {
		mean, std := stat.MeanStdDev(ds, nil)
		if len(ds) < 2 {
			std = 0 // MeanStdDev возвращает NaN для одного сегмента
		}

		var speakerMs int64
		for _, d := range ds {
			speakerMs += int64(d)
		}

		share := 0.0
		if totalMs > 0 {
			share = float64(speakerMs) / float64(totalMs)
		}

		result = append(result, SpeakerStats{
			Speaker:         speaker,
			SegmentCount:    len(ds),
			TotalMs:         speakerMs,
			Share:           share,
			MeanSegmentMs:   mean,
			StdDevSegmentMs: std,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Speaker < result[j].Speaker
	})

	return result
}

// LogStats печатает сводку по спикерам в лог
func LogStats(stats []SpeakerStats) {
	for _, s := range stats {
		log.Printf("Diarization: speaker %d: %d segments, %.1fs total (%.0f%%), mean=%.1fs",
			s.Speaker, s.SegmentCount, float64(s.TotalMs)/1000, s.Share*100, s.MeanSegmentMs/1000)
	}
}
