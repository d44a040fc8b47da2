// Package api exposes the HTTP surface of the taskdeck auth core: auth
// status, login/logout, realtime token issuance, provider auth-mode
// selection, health, and the websocket event channel.
package api
