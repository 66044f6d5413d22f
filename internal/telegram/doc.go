// Package telegram contains the minimal Bot API surface the daemon needs:
// inbound update types delivered over the webhook and an outbound client for
// sending Markdown messages.
package telegram
