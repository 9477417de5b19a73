package fleet

import (
	"math"

	"github.com/audiowire/audiowire/internal/core/protocol"
)

// Penalty folds a stats snapshot into a single comparable load score. Lower
// is better. Each term is monotonic in its input:
//
//   - one point per actively playing session;
//   - CPU load weighted exponentially so saturated hosts fall off fast;
//   - audio frame loss (nulled) and shortfall (deficit) weighted hardest,
//     since they mean listeners already hear degradation.
//
// Frame counters of -1 mean the node reported no frame data and contribute
// nothing.
func Penalty(s protocol.Stats) float64 {
	playerPenalty := float64(s.PlayingPlayers)
	cpuPenalty := math.Pow(1.05, 100*s.CPU.SystemLoad)*10 - 10

	var nullPenalty float64
	if s.Frames.Nulled >= 0 {
		nullPenalty = (math.Pow(1.03, 500*float64(s.Frames.Nulled)/3000)*300 - 300) * 2
	}

	var deficitPenalty float64
	if s.Frames.Deficit >= 0 {
		deficitPenalty = math.Pow(1.03, 500*float64(s.Frames.Deficit)/3000)*600 - 600
	}

	return playerPenalty + cpuPenalty + nullPenalty + deficitPenalty
}
