// Package server provides HTTP access to agglomeration.  A graph document
// posted to /api/agglomerate is merged with the server's default settings,
// overridden by the query string, and returned with its label mapping.
package server
