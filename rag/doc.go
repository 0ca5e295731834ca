/*
Package rag implements the region adjacency graph used for agglomeration.

Nodes are regions keyed by label and edges join adjacent regions.  Each node keeps
its own list of incident edges so traversal is O(degree), and edges are found by
their canonical (smaller id first) key so there is at most one edge per pair.

All graph mutation during agglomeration goes through MergeNodes, which notifies a
Combiner so feature caches and priority structures can follow the change.
*/
package rag
