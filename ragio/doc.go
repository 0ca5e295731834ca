/*
	Package ragio reads and writes region adjacency graphs.

	The interchange format is a JSON document with an "edge_list" array.  Each
	entry names the two regions of an edge and optionally their sizes, the
	edge weight, a boundary location, the edge size and the preserve and
	false_edge flags:

		{
			"version": "1.0.0",
			"run_id": "...",
			"edge_list": [
				{"node1": 1, "node2": 2, "size1": 120, "size2": 80, "weight": 0.2,
				 "edge_size": 14, "location": [10, 4, 7], "preserve": false, "false_edge": false}
			],
			"node_list": [
				{"node": 1, "size": 120, "boundary_size": 3, "mito_type": 1}
			]
		}

	Documents are checked against an embedded JSON Schema before they are
	loaded.  Snapshots are a compact gob encoding framed by np.SerializeData.
*/
package ragio
