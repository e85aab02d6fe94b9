package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"purchase-settlement-api/internal/model"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformedPayload is returned for bodies that are not a provider notification.
var ErrMalformedPayload = errors.New("malformed notification payload")

// Fields may be null; the provider omits or nulls anything it does not know yet.
const notificationSchema = `{
	"type": "object",
	"properties": {
		"EventType": {"type": ["string", "null"]},
		"ProjectUid": {"type": ["string", "null"]},
		"TxHash": {"type": ["string", "null"]},
		"Price": {"type": ["integer", "null"]},
		"ReceiverAddress": {"type": ["string", "null"]},
		"ReceiverStakeAddress": {"type": ["string", "null"]},
		"NotificationSaleNfts": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"properties": {
					"NftUid": {"type": ["string", "null"]},
					"NftName": {"type": ["string", "null"]},
					"AssetId": {"type": ["string", "null"]}
				}
			}
		}
	}
}`

// Action is what the pipeline does with a classified event.
type Action int

const (
	ActionDrop Action = iota
	ActionUpdateStatus
	ActionSettle
	ActionRecordCancel
)

// EventClassifier parses provider payloads into NotificationEvents and
// decides which branch of the pipeline handles them.
type EventClassifier struct {
	schema *gojsonschema.Schema
}

// NewEventClassifier compiles the payload schema.
func NewEventClassifier() (*EventClassifier, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(notificationSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile notification schema: %w", err)
	}
	return &EventClassifier{schema: schema}, nil
}

// Parse validates and decodes a raw body. A missing TxHash is not an error
// here: the caller treats such events as probes.
func (c *EventClassifier) Parse(body []byte) (*model.NotificationEvent, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, strings.Join(msgs, "; "))
	}

	var payload model.NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := &model.NotificationEvent{
		TxID:          strings.TrimSpace(payload.TxHash),
		Type:          model.ParseEventType(payload.EventType),
		RawType:       payload.EventType,
		BuyerIdentity: strings.TrimSpace(payload.ReceiverStakeAddress),
		BuyerAddress:  strings.TrimSpace(payload.ReceiverAddress),
		ProjectID:     strings.TrimSpace(payload.ProjectUID),
		Amount:        payload.Price,
		Raw:           body,
	}
	if ev.BuyerIdentity == "" {
		// Enterprise addresses have no stake part; the address is the only identity we get.
		ev.BuyerIdentity = ev.BuyerAddress
	}
	for _, nft := range payload.NotificationSaleNfts {
		if nft.NftUID == "" && nft.AssetID == "" {
			continue
		}
		ev.Assets = append(ev.Assets, model.SaleAsset{
			UID:     nft.NftUID,
			Name:    nft.NftName,
			AssetID: nft.AssetID,
		})
	}
	return ev, nil
}

// Classify maps an event type onto the pipeline action.
func Classify(t model.EventType) Action {
	switch t {
	case model.EventConfirmed:
		return ActionUpdateStatus
	case model.EventFinished:
		return ActionSettle
	case model.EventCanceled:
		return ActionRecordCancel
	default:
		return ActionDrop
	}
}

func eventRank(t model.EventType) int {
	switch t {
	case model.EventConfirmed:
		return 1
	case model.EventCanceled:
		return 2
	case model.EventFinished:
		return 3
	default:
		return 0
	}
}

// Transition folds an incoming event into the current state of a transaction.
// States only move forward (UNKNOWN < CONFIRMED < CANCELED < FINISHED), so the
// result does not depend on arrival order. FINISHED is terminal: the chain
// transaction is final even if a cancel notice shows up.
func Transition(current, incoming model.EventType) model.EventType {
	if eventRank(incoming) > eventRank(current) {
		return incoming
	}
	if current == "" {
		return model.EventUnknown
	}
	return current
}

// PurchaseStatusFor returns the purchase status an event state is shown as,
// or "" for states that have none.
func PurchaseStatusFor(t model.EventType) string {
	switch t {
	case model.EventConfirmed:
		return model.PurchaseConfirmed
	case model.EventCanceled:
		return model.PurchaseCanceled
	case model.EventFinished:
		return model.PurchaseCompleted
	default:
		return ""
	}
}

func eventForStatus(status string) model.EventType {
	switch status {
	case model.PurchaseConfirmed:
		return model.EventConfirmed
	case model.PurchaseCanceled:
		return model.EventCanceled
	case model.PurchaseCompleted:
		return model.EventFinished
	default:
		return model.EventUnknown
	}
}
