package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/notify"
)

func validPayload() []byte {
	return []byte(`{
		"message_id": "m1",
		"conversation_id": "c1",
		"tenant_id": "org1",
		"response": "the answer",
		"metadata": {"model": "large"},
		"response_group_id": "g1"
	}`)
}

func TestProcessorHandle(t *testing.T) {
	t.Run("success commits one completion and emits two ordered events", func(t *testing.T) {
		store := newFakeStore()
		store.ownerByConversation["org1/c1"] = "user1"
		notifier := &fakeNotifier{}
		processor := NewProcessor(store, notifier, nil)

		outcome, err := processor.Handle(context.Background(), validPayload())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, outcome)

		require.Len(t, store.completions, 1)
		call := store.completions[0]
		assert.Equal(t, "user1", call.userID)
		assert.Equal(t, "org1", call.organizationID)
		assert.Equal(t, "m1", call.completion.OriginalMessageID)
		assert.Equal(t, "c1", call.completion.ConversationID)
		assert.Equal(t, "the answer", call.completion.Response)
		assert.Equal(t, "g1", call.completion.ResponseGroupID)

		events := notifier.sent()
		require.Len(t, events, 2)
		assert.Equal(t, notify.EventMessageStatus, events[0].event.Type)
		assert.Equal(t, notify.EventMessageNew, events[1].event.Type)
		for _, e := range events {
			assert.Equal(t, "org1", e.orgID)
			assert.Equal(t, "user1", e.userID)
		}
	})

	t.Run("the owning user comes from the conversation row, not the payload", func(t *testing.T) {
		store := newFakeStore()
		store.ownerByConversation["org1/c1"] = "resolved-user"
		notifier := &fakeNotifier{}
		processor := NewProcessor(store, notifier, nil)

		payload := []byte(`{
			"message_id": "m1",
			"conversation_id": "c1",
			"tenant_id": "org1",
			"response": "r",
			"user_id": "spoofed-user"
		}`)

		outcome, err := processor.Handle(context.Background(), payload)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, outcome)
		assert.Equal(t, "resolved-user", store.completions[0].userID)
	})

	t.Run("missing identifiers are structural and write nothing", func(t *testing.T) {
		store := newFakeStore()
		notifier := &fakeNotifier{}
		processor := NewProcessor(store, notifier, nil)

		outcome, err := processor.Handle(context.Background(), []byte(`{"message_id":"m1","tenant_id":"org1"}`))
		require.Error(t, err)
		assert.Equal(t, OutcomeStructuralFailure, outcome)
		assert.Equal(t, 0, store.ownerCalls)
		assert.Equal(t, 0, store.writeCount())
		assert.Empty(t, notifier.sent())
	})

	t.Run("conversation lookup miss is transient", func(t *testing.T) {
		store := newFakeStore()
		notifier := &fakeNotifier{}
		processor := NewProcessor(store, notifier, nil)

		outcome, err := processor.Handle(context.Background(), validPayload())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConversationNotFound)
		assert.Equal(t, OutcomeTransientFailure, outcome)
		assert.Equal(t, 0, store.writeCount())
		assert.Empty(t, notifier.sent())
	})

	t.Run("transaction failure is transient and emits nothing", func(t *testing.T) {
		store := newFakeStore()
		store.ownerByConversation["org1/c1"] = "user1"
		store.completeErr = assert.AnError
		notifier := &fakeNotifier{}
		processor := NewProcessor(store, notifier, nil)

		outcome, err := processor.Handle(context.Background(), validPayload())
		require.Error(t, err)
		assert.Equal(t, OutcomeTransientFailure, outcome)
		assert.Empty(t, notifier.sent())
	})

	t.Run("notification failure does not change the outcome", func(t *testing.T) {
		store := newFakeStore()
		store.ownerByConversation["org1/c1"] = "user1"
		notifier := &fakeNotifier{err: assert.AnError}
		processor := NewProcessor(store, notifier, nil)

		outcome, err := processor.Handle(context.Background(), validPayload())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, outcome)
		assert.Equal(t, 1, store.writeCount())
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "structural_failure", OutcomeStructuralFailure.String())
	assert.Equal(t, "transient_failure", OutcomeTransientFailure.String())
}
