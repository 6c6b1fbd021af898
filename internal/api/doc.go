// Package api exposes the HTTP interface for queuing research runs, reading
// their results and browsing archived reports.
package api
