package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookEventIsTerminal(t *testing.T) {
	assert.False(t, (&WebhookEvent{Status: WebhookEventStatusProcessing}).IsTerminal())
	assert.True(t, (&WebhookEvent{Status: WebhookEventStatusCompleted}).IsTerminal())
	assert.True(t, (&WebhookEvent{Status: WebhookEventStatusFailed}).IsTerminal())
}
