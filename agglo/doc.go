/*
Package agglo merges the regions of a region adjacency graph in order of
increasing boundary probability.

Several loops are provided.  Each drives the shared merge primitive of the
rag package with a combiner that keeps feature caches, the label mapping, and
the loop's own ranking consistent with the graph:

	Agglomerate       lazily re-scored ranking with dirty sweeps
	AgglomerateQueue  binary heap with in-place key updates
	AgglomerateFlat   edges sorted once, joined edges re-scored in place
	AgglomerateMito   absorbs mitochondria into their enclosing region
	AgglomerateMRF    conservative pre-pass, inclusion removal, final pass

RemoveInclusions merges regions that touch the rest of the volume only
through a single region.
*/
package agglo
