package batch

import (
	"cmp"

	"github.com/addrummond/heap"
)

type allocation struct {
	end   float64
	nodes int
}

func (a *allocation) Cmp(b *allocation) int {
	return cmp.Compare(a.end, b.end)
}

// EstimateStartTimes replays the current queue forward under strict FCFS and
// reports when each hypothetical job would start if it were appended now.
// Jobs are predicted independently of one another. Reservations that have
// not reached the queue yet (delayed or future background jobs) are ignored.
func (s *Simulator) EstimateStartTimes(jobs []JobShape) (map[string]float64, error) {
	predictions := make(map[string]float64, len(jobs))
	for _, job := range jobs {
		if job.Nodes < 1 || job.Nodes > s.hosts || job.Walltime < 0 {
			predictions[job.ID] = -1
			continue
		}
		predictions[job.ID] = s.predict(job.Nodes, job.Walltime) - s.now
	}
	return predictions, nil
}

func (s *Simulator) predict(nodes int, walltime float64) float64 {
	var ends heap.Heap[allocation, heap.Min]
	for _, r := range s.reservations {
		if r.state == reservationRunning {
			heap.PushOrderable(&ends, allocation{end: r.startedAt + r.duration, nodes: r.nodes})
		}
	}

	free := s.free
	t := s.now
	place := func(nodes int, duration float64) float64 {
		for free < nodes {
			a, ok := heap.PopOrderable(&ends)
			if !ok {
				break
			}
			t = max(t, a.end)
			free += a.nodes
		}
		free -= nodes
		heap.PushOrderable(&ends, allocation{end: t + duration, nodes: nodes})
		return t
	}

	for i := 0; i < s.queue.Len(); i++ {
		r := s.queue.At(i)
		place(r.nodes, r.duration)
	}
	return place(nodes, walltime)
}
