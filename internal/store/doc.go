// Package store holds the in-memory progress aggregates behind the ops API.
// It must not import database drivers or concrete clients; durable lead
// persistence lives in internal/leadstore.
package store
