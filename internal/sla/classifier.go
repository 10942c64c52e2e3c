// Package sla классифицирует срочность назначения по времени, прошедшему с его создания.
package sla

import "time"

// Tier уровень срочности для цветовой индикации на дашбордах.
type Tier string

const (
	TierNormal    Tier = "normal"
	TierAttention Tier = "attention"
	TierCritical  Tier = "critical"
)

const (
	AttentionAfter = 20 * time.Minute
	CriticalAfter  = 30 * time.Minute
)

// Classify отображает прошедшие секунды в уровень: < 1200 normal, 1200-1799 attention, >= 1800 critical.
// Отрицательные значения (рассинхронизация часов) считаются normal.
func Classify(elapsedSeconds int64) Tier {
	switch {
	case elapsedSeconds >= int64(CriticalAfter/time.Second):
		return TierCritical
	case elapsedSeconds >= int64(AttentionAfter/time.Second):
		return TierAttention
	default:
		return TierNormal
	}
}

// ClassifyDuration то же, что Classify, с усечением до целых секунд.
func ClassifyDuration(d time.Duration) Tier {
	return Classify(int64(d / time.Second))
}

// Since уровень для назначения, созданного в createdAt, на момент now.
func Since(createdAt, now time.Time) Tier {
	return ClassifyDuration(now.Sub(createdAt))
}

// Rank порядок уровней для сравнения эскалации.
func (t Tier) Rank() int {
	switch t {
	case TierAttention:
		return 1
	case TierCritical:
		return 2
	default:
		return 0
	}
}
