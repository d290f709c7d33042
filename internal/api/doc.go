// Package api exposes the wallet over HTTP: the conversational endpoints, the
// payment redirect pages, the payment gateway webhook, health and metrics.
package api
