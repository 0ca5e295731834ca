/*
Package features keeps incremental statistics for every node and edge of a
region adjacency graph and turns them into the feature vectors consumed by an
edge classifier.

Statistics are accumulated per prediction channel in caches that can be
merged in constant time, so merging two regions never requires a rescan of
the underlying voxels.
*/
package features
