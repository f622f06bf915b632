package diarize

import "log"

// minMatchOverlapMs минимальное перекрытие для сопоставления спикера с
// сегментом предыдущего чанка. Отсекает случайные микро-перекрытия, которые
// склеивали бы двух разных спикеров.
const minMatchOverlapMs = 100

// reconciler сопоставляет локальные ID спикеров чанка со стабильными
// глобальными ID сессии. Единственная память между чанками - сегменты зоны
// перекрытия предыдущего чанка.
type reconciler struct {
	nextGlobalID int
}

// reconcile переразмечает сегменты чанка глобальными ID спикеров.
//
// Для первого чанка каждый новый локальный ID получает свежий глобальный ID
// в порядке первого появления. Для последующих чанков локальные ID сначала
// сопоставляются в зоне перекрытия [zoneStartMs, zoneEndMs): выбирается
// сегмент предыдущего чанка с максимальным перекрытием по времени (жадное
// сопоставление, строгое сравнение, при равенстве - первый найденный).
// Если лучшее перекрытие не превышает minMatchOverlapMs, локальный ID
// считается новым спикером. Локальные ID, не встретившиеся в зоне перекрытия,
// получают новые глобальные ID при первом появлении в чанке.
//
// Два локальных ID могут сопоставиться одному глобальному - это намеренно:
// при шумной локальной сегментации лучше слить, чем плодить спикеров.
func (r *reconciler) reconcile(segments []Segment, chunkIndex int, prevOverlap []Segment, zoneStartMs, zoneEndMs int64) []Segment {
	mapping := make(map[int]int)

	if chunkIndex > 0 {
		for _, seg := range segments {
			if !intersectsZone(seg, zoneStartMs, zoneEndMs) {
				continue
			}
			if _, ok := mapping[seg.Speaker]; ok {
				continue
			}

			bestOverlap := int64(0)
			bestSpeaker := -1
			for _, prev := range prevOverlap {
				if ov := overlapMs(seg, prev); ov > bestOverlap {
					bestOverlap = ov
					bestSpeaker = prev.Speaker
				}
			}

			if bestOverlap > minMatchOverlapMs {
				mapping[seg.Speaker] = bestSpeaker
			} else {
				// Нет уверенного совпадения - спикер появился в середине сессии
				mapping[seg.Speaker] = r.nextGlobalID
				r.nextGlobalID++
			}
		}
	}

	// Переразмечаем весь чанк; локальные ID вне зоны перекрытия получают
	// новые глобальные ID в порядке первого появления
	result := make([]Segment, len(segments))
	for i, seg := range segments {
		global, ok := mapping[seg.Speaker]
		if !ok {
			global = r.nextGlobalID
			r.nextGlobalID++
			mapping[seg.Speaker] = global
		}
		result[i] = Segment{
			StartMs: seg.StartMs,
			EndMs:   seg.EndMs,
			Speaker: global,
		}
	}

	if chunkIndex > 0 && len(segments) > 0 {
		log.Printf("Diarization: chunk %d reconciled %d segments, %d local speakers, next global id=%d",
			chunkIndex, len(result), len(mapping), r.nextGlobalID)
	}

	return result
}

// reset сбрасывает счётчик глобальных ID (новая сессия)
func (r *reconciler) reset() {
	r.nextGlobalID = 0
}
