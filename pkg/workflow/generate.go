package workflow

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Parse builds a workflow from a specification string:
//
//	indep:<seed>:<n>:<tmin>:<tmax>           n independent tasks
//	levels:<seed>:<n0>:<t0>:<T0>:...:<Tk>    strictly levelled, full dependencies
//	file:<path>                              YAML workflow description
//
// Task costs are drawn uniformly (integral) from [tmin, tmax].
func Parse(spec string) (*Workflow, error) {
	tokens := strings.Split(spec, ":")
	switch tokens[0] {
	case "indep":
		if len(tokens) != 5 {
			return nil, fmt.Errorf("invalid workflow specification %q", spec)
		}
		return parseIndep(tokens)
	case "levels":
		if len(tokens) < 5 || (len(tokens)-2)%3 != 0 {
			return nil, fmt.Errorf("invalid workflow specification %q", spec)
		}
		return parseLevels(tokens)
	case "file":
		if len(tokens) < 2 {
			return nil, fmt.Errorf("invalid workflow specification %q", spec)
		}
		return LoadFile(strings.Join(tokens[1:], ":"))
	default:
		return nil, fmt.Errorf("unknown workflow type %q", tokens[0])
	}
}

// LevelSpec describes one level of a generated levelled workflow
type LevelSpec struct {
	Tasks    int
	MinFlops uint64
	MaxFlops uint64
}

// Indep generates n independent tasks named Task_<i>
func Indep(seed uint64, n int, minFlops, maxFlops uint64) (*Workflow, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid number of tasks %d", n)
	}
	if maxFlops < minFlops {
		return nil, fmt.Errorf("max task cost %d is below min task cost %d", maxFlops, minFlops)
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	w := New()
	for i := 0; i < n; i++ {
		if err := w.AddTask(fmt.Sprintf("Task_%d", i), float64(uniform(rng, minFlops, maxFlops))); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Levels generates a strictly levelled workflow where every task of level l
// depends on every task of level l-1. Tasks are named Task_l<l>_<i>.
func Levels(seed uint64, levels []LevelSpec) (*Workflow, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("at least one level is required")
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	w := New()
	ids := make([][]string, len(levels))
	for l, spec := range levels {
		if spec.Tasks < 1 {
			return nil, fmt.Errorf("invalid number of tasks in level %d", l)
		}
		if spec.MaxFlops < spec.MinFlops {
			return nil, fmt.Errorf("invalid task cost range in level %d", l)
		}
		for i := 0; i < spec.Tasks; i++ {
			id := fmt.Sprintf("Task_l%d_%d", l, i)
			if err := w.AddTask(id, float64(uniform(rng, spec.MinFlops, spec.MaxFlops))); err != nil {
				return nil, err
			}
			ids[l] = append(ids[l], id)
		}
	}
	for l := 1; l < len(levels); l++ {
		for _, child := range ids[l] {
			for _, parent := range ids[l-1] {
				if err := w.AddDependency(parent, child); err != nil {
					return nil, err
				}
			}
		}
	}
	return w, nil
}

func uniform(rng *rand.Rand, lo, hi uint64) uint64 {
	if lo == 0 && hi == math.MaxUint64 {
		return rng.Uint64()
	}
	return lo + rng.Uint64N(hi-lo+1)
}

func parseIndep(tokens []string) (*Workflow, error) {
	seed, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RNG seed %q", tokens[1])
	}
	n, err := strconv.Atoi(tokens[2])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("invalid number of tasks %q", tokens[2])
	}
	lo, err := strconv.ParseUint(tokens[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid min task cost %q", tokens[3])
	}
	hi, err := strconv.ParseUint(tokens[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid max task cost %q", tokens[4])
	}
	return Indep(seed, n, lo, hi)
}

func parseLevels(tokens []string) (*Workflow, error) {
	seed, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RNG seed %q", tokens[1])
	}
	var levels []LevelSpec
	for i := 2; i+2 < len(tokens); i += 3 {
		l := len(levels)
		n, err := strconv.Atoi(tokens[i])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid number of tasks in level %d", l)
		}
		lo, err := strconv.ParseUint(tokens[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid min task cost in level %d", l)
		}
		hi, err := strconv.ParseUint(tokens[i+2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid max task cost in level %d", l)
		}
		levels = append(levels, LevelSpec{Tasks: n, MinFlops: lo, MaxFlops: hi})
	}
	return Levels(seed, levels)
}
