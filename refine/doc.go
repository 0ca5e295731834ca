/*
	Package refine adjusts edge merge probabilities by looking at groups of
	edges around a region together.

	For every region that is not a mitochondrion, its neighbors are split into
	small subsets.  Every merge/keep labeling of the edges to a subset is
	played out on a scratch copy of that part of the graph, merging in order of
	increasing probability and re-scoring edges as they join.  The cost of each
	labeling becomes a belief for each of its edges, and the beliefs collected
	from every subset an edge takes part in push its probability up or down.

	The live graph is only read while labelings are evaluated, so subsets are
	evaluated concurrently.  The new probabilities are written back in a single
	sequential pass.
*/
package refine
