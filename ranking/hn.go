// Package ranking orders submissions the way Hacker News does: votes push a
// submission up, age pulls it down.
package ranking

import (
	"math"
	"time"
)

type Rankable interface {
	GetScore() int64
	Age() time.Time
}

// Rank returns the rank of item at referenceTime. The author's implicit vote
// is not counted, and gravity sets how fast old items sink.
func Rank(item Rankable, gravity float64, timebaseInHours int64, referenceTime time.Time) float64 {
	hours := referenceTime.Sub(item.Age()).Hours()
	if hours < 0 {
		hours = 0
	}
	s := item.GetScore()

	return float64(s-1) / math.Pow((float64(timebaseInHours)+hours), gravity)
}
