/*
Package clustering decides how the incomplete tasks of a levelled workflow
are packed into clustered jobs, each of which becomes one reservation.

The strategies all sit behind the Strategy interface:

	spec                      strategy         controller mode
	hc-<n>-<m>                FixedSize        level-by-level
	dfjs-<t>-<m>              RuntimeBounded   level-by-level
	hrb-<n>-<m>               Balanced         level-by-level
	<family>-vposterior-...   PosteriorMerge   level-by-level
	one_job-<m>               OneJob           level-by-level
	one_job_per_task          OneJobPerTask    individual from the start
	vc                        Vertical         level-by-level
	zhang[:overlap][:plimit]  RatioSearch      ratio-search

A node count m of 0 is chosen per cluster by minimising predicted wait
plus estimated makespan.

Strategies never mutate the workflow or the placeholder bookkeeping. They
read a Snapshot (task states, host count, running placeholders and which
tasks are already held by an active placeholder) and return a Decision.
A task held by an active placeholder is never placed again, which is what
keeps a task in at most one active clustered job.

# Fixed size

The lowest level with uncovered tasks is cut into clusters of at most n
tasks in provider order. Each cluster asks for m nodes, clamped to the host
count, for its estimated makespan times RuntimeFudgeFactor.

# Runtime bounded and balanced

Runtime-bounded clustering grows each cluster in provider order until one
more task would push its estimated makespan past t seconds. Balanced
clustering makes as many clusters as fixed size would and hands tasks out
longest first to the least loaded one.

# Whole workflow and single tasks

OneJob puts every remaining task into one reservation that spans the
remaining levels. OneJobPerTask asks for individual mode straight away.

# Vertical

Each uncovered task of the lowest open level starts a chain that follows
its only child while that child has no other parent. A chain runs on one
node.

# Posterior merge

Two consecutive levels are cut as above. A lower cluster p and an upper
cluster c are fused when every dependency edge leaving p lands in c, every
edge entering c comes from p, and the MergePolicy accepts the pair.

# Ratio search

The search works on the levels from the start level to the last one:

	   start                                   last
	     │                                       │
	     ▼                                       ▼
	   ┌────┐
	   │ L0 │  ratio = wait / runtime
	   └────┘
	   ┌────┬────┐
	   │ L0 │ L1 │  keep growing while the ratio does not get worse
	   └────┴────┘
	   ┌────┬────┬────┐
	   │ L0 │ L1 │ L2 │  worse: submit L0..L1
	   └────┴────┴────┘

While the first level alone waits longer than it runs (the giant phase),
the group grows regardless of the ratio. Each step is compared with the
previously accepted step only, never with the whole-workflow estimate,
which is logged for reference.

A running placeholder that outlives the predicted wait stretches the new
group's runtime by the difference, so that the new reservation overlaps the
old one's tail. The oracle is queried again once with the stretched
runtime.

When the search reaches the last level without stopping, the Decision asks
for individual mode: grouping is abandoned and every ready task becomes its
own single-node reservation.
*/
package clustering
