// Package server is the HTTP surface of pairchat.
//
// It upgrades /ws requests into hub connections, serves the account and
// history API consumed by the web client, exposes stored attachments, and
// publishes health and prometheus metrics. Origin checks for both the
// WebSocket upgrade and CORS share one allow-list.
package server
