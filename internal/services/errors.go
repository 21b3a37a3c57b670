// Package services holds the ingestion logic that turns a WhatsApp webhook
// delivery into stored conversations, participants and messages. This file
// centralizes the service-level error values so handlers can map them to
// HTTP status codes consistently.
package services

import "errors"

var (
	// ErrInvalidSignature is returned when signature verification is enabled
	// and the X-Hub-Signature-256 header does not match the body. Nothing is
	// stored for such a delivery.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrRawEventNotFound is returned by Replay for an unknown delivery id.
	ErrRawEventNotFound = errors.New("raw event not found")

	// ErrPluginMode is returned when the process runs as a read-only plugin
	// and webhook ingestion is disabled.
	ErrPluginMode = errors.New("webhook ingestion disabled in plugin mode")
)
