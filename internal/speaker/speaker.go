package speaker

import "github.com/ChizhovVadim/StarganVC/internal/config"

// Pair is the source and target speaker used for evaluation samples.
type Pair struct {
	Source string
	Target string
}

// Resolve does not check that the dataset has these speakers.
func Resolve(dataset string) Pair {
	if dataset == config.DatasetVCC2016 {
		return Pair{Source: "sf3", Target: "tm3"}
	}
	return Pair{Source: "p262", Target: "p272"}
}
