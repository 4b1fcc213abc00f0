// Package api exposes the HTTP interface for the link metadata service.
package api
