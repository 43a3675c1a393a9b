package routing

import "github.com/signalsfoundry/leo-swarm-router/model"

// ringMap expresses a preference mode as ring roles: traffic is pushed along
// forward and converges on the boundary index picked by convergence.
type ringMap struct {
	forward     model.Direction
	backward    model.Direction
	convergence func(model.Boundaries) int
}

var ringMaps = map[model.Preference]ringMap{
	model.PreferenceWestward: {
		forward:     model.Up,
		backward:    model.Down,
		convergence: func(b model.Boundaries) int { return b.V },
	},
	model.PreferenceEastward: {
		forward:     model.Down,
		backward:    model.Up,
		convergence: func(b model.Boundaries) int { return b.U },
	},
}

func ringFor(pref model.Preference) ringMap {
	if rm, ok := ringMaps[pref]; ok {
		return rm
	}
	return ringMaps[model.PreferenceWestward]
}
