/*
NeuroProof agglomerates an over-segmented EM volume by merging the regions of its
region adjacency graph (RAG) in order of the predicted probability that the
boundary between two regions is false.

Documentation for the packages:

	np         logging, serialization framing, ids and versions shared by all packages
	rag        the region adjacency graph and its merge operation
	features   per-node and per-edge feature caches and the boundary classifier
	agglo      merge priorities and the agglomeration algorithms
	refine     re-estimation of remaining edge probabilities over neighbor subsets
	labelmap   label mappings produced by merges and their arrow, msgpack and badger forms
	ragio      the JSON graph interchange format and binary snapshots
	volume     raw label and prediction volumes and graph construction from them
	pipeline   TOML-configured runs from input files to outputs
	server     HTTP access to agglomeration

Commands

In the following documentation, the type of brackets designate
<required parameter> and [optional parameter].

	neuroproof about
	neuroproof agglomerate <config.toml>
	neuroproof serve [server.toml]
	neuroproof validate <graph.json>
	neuroproof token <server.toml> <user>

A run configuration looks like:

	[logging]
	logfile = "/tmp/neuroproof.log"
	max_log_size = 500 # MB
	max_log_age = 30   # days

	[input]
	graph = "graph.json"

	[agglomeration]
	algorithm = "mrf"
	threshold = 0.2
	mito_threshold = 0.35
	remove_inclusions = true

	[refine]
	enabled = true
	workers = 8

	[output]
	graph = "agglomerated.json"
	mapping = "mapping.arrow"
*/
package neuroproof
