package service

import (
	"errors"
	"testing"

	"purchase-settlement-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	c, err := NewEventClassifier()
	require.NoError(t, err)

	ev, err := c.Parse(notification("TransactionFinished", " tx-001 ", "stake1abc", "nft-42", "nft-43"))
	require.NoError(t, err)

	assert.Equal(t, "tx-001", ev.TxID)
	assert.Equal(t, model.EventFinished, ev.Type)
	assert.Equal(t, "TransactionFinished", ev.RawType)
	assert.Equal(t, "stake1abc", ev.BuyerIdentity)
	assert.Equal(t, "addr1buyer", ev.BuyerAddress)
	assert.Equal(t, "proj-1", ev.ProjectID)
	assert.Equal(t, int64(25000000), ev.Amount)
	require.Len(t, ev.Assets, 2)
	assert.Equal(t, "asset-nft-42", ev.PrimaryAssetID())
	assert.Equal(t, "nft-43", ev.Assets[1].UID)
}

func TestParseBuyerFallsBackToAddress(t *testing.T) {
	c, err := NewEventClassifier()
	require.NoError(t, err)

	ev, err := c.Parse([]byte(`{"EventType":"transactionfinished","TxHash":"tx-1","ReceiverAddress":"addr1only","ReceiverStakeAddress":null}`))
	require.NoError(t, err)
	assert.Equal(t, "addr1only", ev.BuyerIdentity)
	assert.Empty(t, ev.Assets)
	assert.Empty(t, ev.PrimaryAssetID())
}

func TestParseSkipsEmptyAssetEntries(t *testing.T) {
	c, err := NewEventClassifier()
	require.NoError(t, err)

	ev, err := c.Parse([]byte(`{"TxHash":"tx-1","NotificationSaleNfts":[{"NftName":"ghost"},{"AssetId":"a1"}]}`))
	require.NoError(t, err)
	require.Len(t, ev.Assets, 1)
	assert.Equal(t, "a1", ev.Assets[0].Key())
	assert.Equal(t, model.EventUnknown, ev.Type)
}

func TestParseRejectsMalformed(t *testing.T) {
	c, err := NewEventClassifier()
	require.NoError(t, err)

	for _, body := range []string{"", "   ", "{", `[]`, `"text"`, `{"Price":"free"}`, `{"NotificationSaleNfts":[1]}`} {
		_, err := c.Parse([]byte(body))
		assert.True(t, errors.Is(err, ErrMalformedPayload), "body %q", body)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ActionUpdateStatus, Classify(model.EventConfirmed))
	assert.Equal(t, ActionSettle, Classify(model.EventFinished))
	assert.Equal(t, ActionRecordCancel, Classify(model.EventCanceled))
	assert.Equal(t, ActionDrop, Classify(model.EventUnknown))
	assert.Equal(t, ActionDrop, Classify(model.ParseEventType("transactionrefunded")))
}

func TestTransitionIsOrderIndependent(t *testing.T) {
	all := []model.EventType{model.EventUnknown, model.EventConfirmed, model.EventCanceled, model.EventFinished}

	for _, a := range all {
		for _, b := range all {
			ab := Transition(Transition(model.EventUnknown, a), b)
			ba := Transition(Transition(model.EventUnknown, b), a)
			assert.Equal(t, ab, ba, "%s then %s", a, b)
		}
	}

	assert.Equal(t, model.EventFinished, Transition(model.EventFinished, model.EventCanceled))
	assert.Equal(t, model.EventFinished, Transition(model.EventConfirmed, model.EventFinished))
	assert.Equal(t, model.EventCanceled, Transition(model.EventConfirmed, model.EventCanceled))
	assert.Equal(t, model.EventUnknown, Transition("", model.EventUnknown))
}
